package migrate

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Outcome is the result of processing one record or link.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeSkipped
	OutcomeErrored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "errored"
	}
}

// Counts holds the outcome counters of one kind.
type Counts struct {
	Total   int
	Created int
	Updated int
	Skipped int
	Errored int
}

// RunStatistics accumulates counters per kind for the final summary. It is
// advisory and owned by a single run.
type RunStatistics struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time

	order  []Kind
	counts map[Kind]*Counts
}

// NewRunStatistics returns empty statistics for runID.
func NewRunStatistics(runID string) *RunStatistics {
	return &RunStatistics{
		RunID:     runID,
		StartTime: time.Now(),
		counts:    make(map[Kind]*Counts),
	}
}

// Record counts one outcome for kind.
func (s *RunStatistics) Record(kind Kind, outcome Outcome) {
	c := s.kind(kind)
	c.Total++
	switch outcome {
	case OutcomeCreated:
		c.Created++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeErrored:
		c.Errored++
	}
}

// Counts returns a copy of the counters for kind.
func (s *RunStatistics) Counts(kind Kind) Counts {
	if c, ok := s.counts[kind]; ok {
		return *c
	}
	return Counts{}
}

// Kinds returns the kinds seen, in first-recorded order.
func (s *RunStatistics) Kinds() []Kind {
	return append([]Kind(nil), s.order...)
}

// Errored returns the error count summed over all kinds.
func (s *RunStatistics) Errored() int {
	n := 0
	for _, c := range s.counts {
		n += c.Errored
	}
	return n
}

// Finish stamps the end time.
func (s *RunStatistics) Finish() {
	s.EndTime = time.Now()
}

// Duration is the run's wall time, up to now if it has not finished.
func (s *RunStatistics) Duration() time.Duration {
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime)
}

// WriteSummary prints a per-kind table.
func (s *RunStatistics) WriteSummary(w io.Writer) {
	rule := strings.Repeat("-", 64)

	_, _ = fmt.Fprintf(w, "\n=== Migration Summary (run %s) ===\n", s.RunID)
	_, _ = fmt.Fprintf(w, "Duration: %s\n\n", s.Duration().Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "%-12s %9s %9s %9s %9s %9s\n", "Kind", "Total", "Created", "Updated", "Skipped", "Errored")
	_, _ = fmt.Fprintln(w, rule)

	var sum Counts
	for _, kind := range s.order {
		c := s.counts[kind]
		_, _ = fmt.Fprintf(w, "%-12s %9d %9d %9d %9d %9d\n", kind, c.Total, c.Created, c.Updated, c.Skipped, c.Errored)
		sum.Total += c.Total
		sum.Created += c.Created
		sum.Updated += c.Updated
		sum.Skipped += c.Skipped
		sum.Errored += c.Errored
	}

	_, _ = fmt.Fprintln(w, rule)
	_, _ = fmt.Fprintf(w, "%-12s %9d %9d %9d %9d %9d\n", "TOTAL", sum.Total, sum.Created, sum.Updated, sum.Skipped, sum.Errored)
}

func (s *RunStatistics) kind(kind Kind) *Counts {
	c, ok := s.counts[kind]
	if !ok {
		c = &Counts{}
		s.counts[kind] = c
		s.order = append(s.order, kind)
	}
	return c
}
