package migrate

import (
	"fmt"

	"github.com/hearthline/migrator/internal/errors"
)

// Fatal errors abort the run. No further writes are attempted after either.
var (
	ErrAuthentication = errors.NewStd("authentication failed")
	ErrExtraction     = errors.NewStd("extraction failed")
)

// Kind is a migrated record kind.
type Kind string

const (
	KindUsers      Kind = "users"
	KindProperties Kind = "properties"
	KindTags       Kind = "tags"
	KindLinks      Kind = "links"
)

// AllKinds is the run order for a full migration. Tags come last so their
// links can reach properties created earlier in the same run.
var AllKinds = []Kind{KindUsers, KindProperties, KindTags}

// ParseKind maps a CLI argument to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUsers, KindProperties, KindTags:
		return Kind(s), nil
	}
	return "", errors.Newf("unknown record kind %q (want users, properties or tags)", s).
		Component("migrate").
		Category(errors.CategoryValidation).
		Build()
}

// Stage names where a RecordError happened.
const (
	StageTransform = "transform"
	StageGeocode   = "geocode"
	StageWrite     = "write"
	StageLink      = "link"
)

// RecordError is a failure isolated to one record. It is counted and the
// run continues.
type RecordError struct {
	Kind     Kind
	SourceID string
	Stage    string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Stage, e.Kind, e.SourceID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// SkipReason explains a SkipCondition.
type SkipReason string

const (
	SkipMissingAddress   SkipReason = "missing address"
	SkipUnmappedOrg      SkipReason = "unmapped organization"
	SkipNoMemberships    SkipReason = "no resolved memberships"
	SkipNaturalKeyExists SkipReason = "natural key already present"
)

// SkipCondition is a deliberate no-op. It is counted as skipped, never as an error.
type SkipCondition struct {
	Kind     Kind
	SourceID string
	Reason   SkipReason
}

func (s *SkipCondition) Error() string {
	return fmt.Sprintf("skip %s %s: %s", s.Kind, s.SourceID, s.Reason)
}

func recordError(kind Kind, sourceID, stage string, err error) *RecordError {
	return &RecordError{Kind: kind, SourceID: sourceID, Stage: stage, Err: err}
}

func skip(kind Kind, sourceID string, reason SkipReason) *SkipCondition {
	return &SkipCondition{Kind: kind, SourceID: sourceID, Reason: reason}
}

// fatal wraps cause under one of the fatal sentinels.
func fatal(sentinel error, kind Kind, cause error) error {
	category := errors.CategoryExtraction
	if sentinel == ErrAuthentication {
		category = errors.CategoryAuthentication
	}
	return errors.Newf("%w: %w", sentinel, cause).
		Component("migrate").
		Category(category).
		Priority(errors.PriorityCritical).
		Context("record_kind", string(kind)).
		Build()
}
