package migrate

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/logger"
	"github.com/hearthline/migrator/internal/target"
)

// DefaultWriteDelay spaces successful writes to the rate limited target.
const DefaultWriteDelay = 200 * time.Millisecond

// Throttle spaces writes with a token bucket of one token refilled every delay.
// The bucket starts empty, so every Wait, the first included, takes a delay.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a Throttle. A non-positive delay disables throttling.
func NewThrottle(delay time.Duration) *Throttle {
	if delay <= 0 {
		return &Throttle{}
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	limiter.ReserveN(time.Now(), 1)
	return &Throttle{limiter: limiter}
}

// Wait blocks until the next write may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}

// Candidate is a transformed record ready for the upsert decision.
type Candidate struct {
	Kind       Kind
	SourceID   string
	NaturalKey string
	Record     any // target.User, target.Property or target.Tag
}

// UserCandidate wraps a transformed user.
func UserCandidate(u target.User) Candidate {
	return Candidate{Kind: KindUsers, SourceID: u.SourceID, NaturalKey: UserKey(u.Email), Record: u}
}

// PropertyCandidate wraps a transformed property.
func PropertyCandidate(p target.Property) Candidate {
	return Candidate{Kind: KindProperties, SourceID: p.SourceID, NaturalKey: PropertyKey(p.SourceID), Record: p}
}

// TagCandidate wraps a transformed tag.
func TagCandidate(t target.Tag) Candidate {
	return Candidate{Kind: KindTags, SourceID: t.SourceID, NaturalKey: TagKey(t.OrgID, t.Name), Record: t}
}

// Coordinator decides create, update or skip for each candidate and issues
// the write. Write failures are counted, never returned.
type Coordinator struct {
	backend  target.Backend
	stats    *RunStatistics
	throttle *Throttle
	recorder Recorder
	logger   logger.Logger
	indexes  map[Kind]*Index
}

// NewCoordinator returns a Coordinator writing to backend.
func NewCoordinator(backend target.Backend, stats *RunStatistics, throttle *Throttle, recorder Recorder, log logger.Logger) *Coordinator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Coordinator{
		backend:  backend,
		stats:    stats,
		throttle: throttle,
		recorder: recorder,
		logger:   log,
		indexes:  make(map[Kind]*Index),
	}
}

// LoadIndex fetches all existing records of kind once and indexes them.
// Later calls return the cached index.
func (c *Coordinator) LoadIndex(ctx context.Context, kind Kind) (*Index, error) {
	if ix, ok := c.indexes[kind]; ok {
		return ix, nil
	}

	var ix *Index
	switch kind {
	case KindUsers:
		users, err := c.backend.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		ix = IndexUsers(users)
	case KindProperties:
		props, err := c.backend.ListProperties(ctx)
		if err != nil {
			return nil, err
		}
		ix = IndexProperties(props)
	case KindTags:
		tags, err := c.backend.ListTags(ctx)
		if err != nil {
			return nil, err
		}
		ix = IndexTags(tags)
	default:
		return nil, errors.Newf("no index for kind %q", kind).
			Component("migrate").
			Category(errors.CategoryValidation).
			Build()
	}

	c.logger.Debug("existing target records indexed",
		logger.String("kind", string(kind)),
		logger.Int("records", ix.Len()))
	c.indexes[kind] = ix
	return ix, nil
}

// Upsert applies the decision for one candidate: an ID match is updated
// with the full record, a natural-key-only match is skipped, anything else
// is created. It returns the outcome and, for created or updated records,
// the target ID. The index for the candidate's kind must have been loaded.
func (c *Coordinator) Upsert(ctx context.Context, cand Candidate) (Outcome, string) {
	ix, ok := c.indexes[cand.Kind]
	if !ok {
		c.logger.Error("upsert before index load", logger.String("kind", string(cand.Kind)))
		return c.count(cand.Kind, OutcomeErrored), ""
	}

	log := c.logger.With(
		logger.String("kind", string(cand.Kind)),
		logger.String("source_id", cand.SourceID))

	match, existingID := ix.Classify(cand.SourceID, cand.NaturalKey)
	switch match {
	case MatchByNaturalKey:
		log.Debug("natural key already present, skipping", logger.String("existing_id", existingID))
		return c.count(cand.Kind, OutcomeSkipped), ""

	case MatchByID:
		start := time.Now()
		if err := c.update(ctx, existingID, cand.Record); err != nil {
			log.Warn("update failed", logger.String("target_id", existingID), logger.Error(err))
			return c.count(cand.Kind, OutcomeErrored), ""
		}
		c.recorder.ObserveWrite(string(cand.Kind), OperationUpdate, time.Since(start))
		log.Debug("record updated", logger.String("target_id", existingID))
		c.wait(ctx)
		return c.count(cand.Kind, OutcomeUpdated), existingID

	default:
		start := time.Now()
		newID, err := c.create(ctx, cand.Record)
		if err != nil {
			log.Warn("create failed", logger.Error(err))
			return c.count(cand.Kind, OutcomeErrored), ""
		}
		c.recorder.ObserveWrite(string(cand.Kind), OperationCreate, time.Since(start))
		ix.Add(cand.SourceID, cand.NaturalKey, newID)
		log.Debug("record created", logger.String("target_id", newID))
		c.wait(ctx)
		return c.count(cand.Kind, OutcomeCreated), newID
	}
}

// Count records an outcome decided outside the coordinator, such as a skip
// or failure during transformation.
func (c *Coordinator) Count(kind Kind, outcome Outcome) {
	c.count(kind, outcome)
}

func (c *Coordinator) count(kind Kind, outcome Outcome) Outcome {
	c.stats.Record(kind, outcome)
	c.recorder.RecordOutcome(string(kind), outcome.String())
	return outcome
}

// wait applies the throttle after a successful write. Cancellation is
// picked up by the caller before the next record.
func (c *Coordinator) wait(ctx context.Context) {
	_ = c.throttle.Wait(ctx)
}

func (c *Coordinator) create(ctx context.Context, record any) (string, error) {
	switch r := record.(type) {
	case target.User:
		return c.backend.CreateUser(ctx, r)
	case target.Property:
		return c.backend.CreateProperty(ctx, r)
	case target.Tag:
		return c.backend.CreateTag(ctx, r)
	default:
		return "", unsupportedRecord(record)
	}
}

func (c *Coordinator) update(ctx context.Context, id string, record any) error {
	switch r := record.(type) {
	case target.User:
		return c.backend.UpdateUser(ctx, id, r)
	case target.Property:
		return c.backend.UpdateProperty(ctx, id, r)
	case target.Tag:
		return c.backend.UpdateTag(ctx, id, r)
	default:
		return unsupportedRecord(record)
	}
}

func unsupportedRecord(record any) error {
	return errors.Newf("unsupported record type %T", record).
		Component("migrate").
		Category(errors.CategoryValidation).
		Build()
}
