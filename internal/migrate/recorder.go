package migrate

import "time"

// Write operations reported to Recorder.ObserveWrite.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
)

// Recorder receives run metrics. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	RecordOutcome(kind, outcome string)
	ObserveWrite(kind, operation string, d time.Duration)
	ObservePhase(kind string, d time.Duration)
	RecordUserFallback()
	RecordRun(success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(string, string)               {}
func (nopRecorder) ObserveWrite(string, string, time.Duration) {}
func (nopRecorder) ObservePhase(string, time.Duration)         {}
func (nopRecorder) RecordUserFallback()                        {}
func (nopRecorder) RecordRun(bool)                             {}
