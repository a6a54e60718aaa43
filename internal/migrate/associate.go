package migrate

import (
	"context"
	"slices"

	"github.com/hearthline/migrator/internal/logger"
	"github.com/hearthline/migrator/internal/target"
)

// TagState is the lifecycle of one tag within a run.
type TagState int

const (
	TagPending TagState = iota
	TagCreated
	TagLinking
	TagDone
	TagSkipped
	TagErrored
)

func (s TagState) String() string {
	switch s {
	case TagPending:
		return "pending"
	case TagCreated:
		return "created"
	case TagLinking:
		return "linking"
	case TagDone:
		return "done"
	case TagSkipped:
		return "skipped"
	default:
		return "errored"
	}
}

// CreatedTagIndex maps source tag IDs to target tag IDs for the tags that
// were written in this run, in write order. It lives only as long as the run.
type CreatedTagIndex struct {
	ids   map[string]string
	order []string
}

// NewCreatedTagIndex returns an empty index.
func NewCreatedTagIndex() *CreatedTagIndex {
	return &CreatedTagIndex{ids: make(map[string]string)}
}

// Put records that sourceTagID now exists as targetTagID.
func (c *CreatedTagIndex) Put(sourceTagID, targetTagID string) {
	if _, exists := c.ids[sourceTagID]; !exists {
		c.order = append(c.order, sourceTagID)
	}
	c.ids[sourceTagID] = targetTagID
}

// Get returns the target ID for sourceTagID.
func (c *CreatedTagIndex) Get(sourceTagID string) (string, bool) {
	id, ok := c.ids[sourceTagID]
	return id, ok
}

// SourceIDs returns the recorded source tag IDs in write order.
func (c *CreatedTagIndex) SourceIDs() []string {
	return slices.Clone(c.order)
}

// Len returns the number of recorded tags.
func (c *CreatedTagIndex) Len() int {
	return len(c.order)
}

// ReferenceIndex groups tag references by source tag ID.
type ReferenceIndex map[string][]TagReference

// GroupReferences builds a ReferenceIndex.
func GroupReferences(refs []TagReference) ReferenceIndex {
	ix := make(ReferenceIndex)
	for _, ref := range refs {
		ix[ref.SourceTagID] = append(ix[ref.SourceTagID], ref)
	}
	return ix
}

type linkKey struct {
	kind     target.RecordKind
	recordID string
	tagID    string
}

// Reconciler links written tags to the records that reference them. For
// every reference it resolves the record in the target, reads the record's
// current tags and adds the link only when it is absent, so repeating the
// phase never duplicates a link.
type Reconciler struct {
	backend  target.Backend
	stats    *RunStatistics
	throttle *Throttle
	recorder Recorder
	logger   logger.Logger

	states map[string]TagState
	linked map[linkKey]struct{}
}

// NewReconciler returns a Reconciler writing links to backend.
func NewReconciler(backend target.Backend, stats *RunStatistics, throttle *Throttle, recorder Recorder, log logger.Logger) *Reconciler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Reconciler{
		backend:  backend,
		stats:    stats,
		throttle: throttle,
		recorder: recorder,
		logger:   log,
		states:   make(map[string]TagState),
		linked:   make(map[linkKey]struct{}),
	}
}

// SetState records a tag's state; the tag phase uses it for the pre-link
// transitions out of Pending.
func (r *Reconciler) SetState(sourceTagID string, state TagState) {
	r.states[sourceTagID] = state
}

// State returns a tag's state. Unknown tags are Pending.
func (r *Reconciler) State(sourceTagID string) TagState {
	return r.states[sourceTagID]
}

// Reconcile links every tag in created using refs. Tags move from Created
// through Linking to Done; link failures are counted under KindLinks and
// do not stop the tag or the run.
func (r *Reconciler) Reconcile(ctx context.Context, created *CreatedTagIndex, refs ReferenceIndex) error {
	for _, sourceTagID := range created.SourceIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.states[sourceTagID] != TagCreated {
			continue
		}
		tagID, _ := created.Get(sourceTagID)

		r.states[sourceTagID] = TagLinking
		for _, ref := range refs[sourceTagID] {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.link(ctx, tagID, ref)
		}
		r.states[sourceTagID] = TagDone
	}
	return nil
}

func (r *Reconciler) link(ctx context.Context, tagID string, ref TagReference) {
	log := r.logger.With(
		logger.String("tag_source_id", ref.SourceTagID),
		logger.String("record_kind", string(ref.RecordKind)),
		logger.String("record_source_id", ref.SourceRecordID))

	recordID, found, err := r.backend.FindRecordBySourceID(ctx, ref.RecordKind, ref.SourceRecordID)
	if err != nil {
		log.Warn("record lookup failed", logger.Error(err))
		r.count(OutcomeErrored)
		return
	}
	if !found {
		log.Warn("referenced record not found in target")
		r.count(OutcomeErrored)
		return
	}

	key := linkKey{kind: ref.RecordKind, recordID: recordID, tagID: tagID}
	if _, done := r.linked[key]; done {
		r.count(OutcomeSkipped)
		return
	}

	current, err := r.backend.GetRecordTags(ctx, ref.RecordKind, recordID)
	if err != nil {
		log.Warn("reading record tags failed", logger.Error(err))
		r.count(OutcomeErrored)
		return
	}
	if slices.Contains(current, tagID) {
		r.linked[key] = struct{}{}
		r.count(OutcomeSkipped)
		return
	}

	if err := r.backend.AddTagLink(ctx, ref.RecordKind, recordID, tagID); err != nil {
		log.Warn("adding tag link failed", logger.Error(err))
		r.count(OutcomeErrored)
		return
	}

	r.linked[key] = struct{}{}
	log.Debug("tag linked", logger.String("record_id", recordID))
	r.count(OutcomeCreated)
	_ = r.throttle.Wait(ctx)
}

func (r *Reconciler) count(outcome Outcome) {
	r.stats.Record(KindLinks, outcome)
	r.recorder.RecordOutcome(string(KindLinks), outcome.String())
}
