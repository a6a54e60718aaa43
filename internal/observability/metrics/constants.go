// Package metrics provides constants used across metric definitions.
package metrics

import (
	"time"

	"github.com/hearthline/migrator/internal/migrate"
)

// Namespace prefixes every metric name.
const Namespace = "migrator"

// Label value constants used for metric labels.
const (
	// LabelCreate is the operation label for create writes.
	LabelCreate = migrate.OperationCreate
	// LabelUpdate is the operation label for update writes.
	LabelUpdate = migrate.OperationUpdate
	// LabelSuccess marks a run that finished without a fatal error.
	LabelSuccess = "success"
	// LabelFailure marks a run that aborted.
	LabelFailure = "failure"
)

// Histogram bucket configuration constants.
// These define the base values and factors for exponential bucket generation.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~16s range).
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
