package migrate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/geocode"
	"github.com/hearthline/migrator/internal/idmap"
	"github.com/hearthline/migrator/internal/logger"
	"github.com/hearthline/migrator/internal/source"
	"github.com/hearthline/migrator/internal/target"
)

const (
	defaultPageSize      = 100
	defaultProgressEvery = 100
)

// Collections names the source collections read by a run.
type Collections struct {
	Users         string
	Properties    string
	Tags          string
	TagReferences string
}

// DefaultCollections returns the legacy store's collection names.
func DefaultCollections() Collections {
	return Collections{
		Users:         "users",
		Properties:    "properties",
		Tags:          "tags",
		TagReferences: "tag_references",
	}
}

// Config tunes a run.
type Config struct {
	Collections   Collections
	PageSize      int
	WriteDelay    time.Duration
	ProgressEvery int
	Filters       map[Kind]source.Filter
}

// Deps are the collaborators of a Runner. Geocoder may be nil when
// properties are not migrated; Recorder may be nil.
type Deps struct {
	Source   source.Store
	Target   target.Backend
	Mapper   *idmap.Mapper
	Geocoder geocode.Geocoder
	Recorder Recorder
	Logger   logger.Logger
}

// Runner drives one migration run across the requested kinds.
type Runner struct {
	deps Deps
	cfg  Config
	log  logger.Logger
}

// NewRunner returns a Runner.
func NewRunner(deps Deps, cfg Config) *Runner {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	if cfg.Collections == (Collections{}) {
		cfg.Collections = DefaultCollections()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	return &Runner{deps: deps, cfg: cfg, log: deps.Logger}
}

// run holds the state owned by a single Run call.
type run struct {
	*Runner
	log         logger.Logger
	stats       *RunStatistics
	coordinator *Coordinator
	reconciler  *Reconciler
	transformer *Transformer
}

// Run migrates kinds in the given order. With no kinds it migrates all of
// them, users first and tags last. The returned statistics are valid even
// when err is non-nil; err is only set for fatal errors and cancellation.
func (r *Runner) Run(ctx context.Context, kinds ...Kind) (*RunStatistics, error) {
	if len(kinds) == 0 {
		kinds = AllKinds
	}

	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := r.log.WithContext(ctx)

	stats := NewRunStatistics(runID)
	throttle := NewThrottle(r.cfg.WriteDelay)
	state := &run{
		Runner:      r,
		log:         log,
		stats:       stats,
		coordinator: NewCoordinator(r.deps.Target, stats, throttle, r.deps.Recorder, log),
		reconciler:  NewReconciler(r.deps.Target, stats, throttle, r.deps.Recorder, log),
		transformer: NewTransformer(r.deps.Mapper, r.deps.Geocoder, log),
	}
	state.transformer.OnUserFallback = func(string) { r.deps.Recorder.RecordUserFallback() }

	log.Info("migration started", logger.Any("kinds", kinds))

	var err error
	for _, kind := range kinds {
		start := time.Now()
		switch kind {
		case KindUsers:
			err = state.users(ctx)
		case KindProperties:
			err = state.properties(ctx)
		case KindTags:
			err = state.tags(ctx)
		default:
			err = errors.Newf("unsupported kind %q", kind).
				Component("migrate").
				Category(errors.CategoryValidation).
				Build()
		}
		r.deps.Recorder.ObservePhase(string(kind), time.Since(start))
		if err != nil {
			break
		}
	}

	stats.Finish()
	r.deps.Recorder.RecordRun(err == nil)
	if err != nil {
		log.Error("migration aborted", logger.Error(err), logger.Duration("elapsed", stats.Duration()))
		return stats, err
	}
	log.Info("migration finished",
		logger.Duration("elapsed", stats.Duration()),
		logger.Int("errored", stats.Errored()))
	return stats, nil
}

func (r *run) users(ctx context.Context) error {
	if _, err := r.coordinator.LoadIndex(ctx, KindUsers); err != nil {
		return fatal(ErrExtraction, KindUsers, err)
	}
	docs, err := FetchAll(ctx, r.deps.Source, r.cfg.Collections.Users, r.cfg.Filters[KindUsers], r.cfg.PageSize)
	if err != nil {
		return err
	}

	progress := r.progress(KindUsers, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		user, err := r.transformer.User(doc)
		if err != nil {
			r.isolate(KindUsers, err)
		} else {
			r.coordinator.Upsert(ctx, UserCandidate(user))
		}
		progress(i + 1)
	}
	return nil
}

func (r *run) properties(ctx context.Context) error {
	if _, err := r.coordinator.LoadIndex(ctx, KindProperties); err != nil {
		return fatal(ErrExtraction, KindProperties, err)
	}
	docs, err := FetchAll(ctx, r.deps.Source, r.cfg.Collections.Properties, r.cfg.Filters[KindProperties], r.cfg.PageSize)
	if err != nil {
		return err
	}

	progress := r.progress(KindProperties, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		prop, err := r.transformer.Property(ctx, doc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.isolate(KindProperties, err)
		} else {
			r.coordinator.Upsert(ctx, PropertyCandidate(prop))
		}
		progress(i + 1)
	}
	return nil
}

// tags runs both phases: write every tag and fill the CreatedTagIndex,
// then link the written tags to their records.
func (r *run) tags(ctx context.Context) error {
	if _, err := r.coordinator.LoadIndex(ctx, KindTags); err != nil {
		return fatal(ErrExtraction, KindTags, err)
	}

	refDocs, err := FetchAll(ctx, r.deps.Source, r.cfg.Collections.TagReferences, r.cfg.Filters[KindLinks], r.cfg.PageSize)
	if err != nil {
		return err
	}
	refs := make([]TagReference, 0, len(refDocs))
	for _, doc := range refDocs {
		ref, err := ParseTagReference(doc)
		if err != nil {
			r.isolate(KindLinks, err)
			continue
		}
		refs = append(refs, ref)
	}
	byTag := GroupReferences(refs)

	docs, err := FetchAll(ctx, r.deps.Source, r.cfg.Collections.Tags, r.cfg.Filters[KindTags], r.cfg.PageSize)
	if err != nil {
		return err
	}

	created := NewCreatedTagIndex()
	progress := r.progress(KindTags, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		sourceID := doc.ID()
		r.reconciler.SetState(sourceID, TagPending)

		tag, err := r.transformer.Tag(doc, byTag[sourceID])
		if err != nil {
			r.isolate(KindTags, err)
			if _, skipped := errors.AsType[*SkipCondition](err); skipped {
				r.reconciler.SetState(sourceID, TagSkipped)
			} else {
				r.reconciler.SetState(sourceID, TagErrored)
			}
			progress(i + 1)
			continue
		}

		switch outcome, tagID := r.coordinator.Upsert(ctx, TagCandidate(tag)); outcome {
		case OutcomeCreated, OutcomeUpdated:
			created.Put(sourceID, tagID)
			r.reconciler.SetState(sourceID, TagCreated)
		case OutcomeSkipped:
			r.reconciler.SetState(sourceID, TagSkipped)
		default:
			r.reconciler.SetState(sourceID, TagErrored)
		}
		progress(i + 1)
	}

	r.log.Info("linking tags",
		logger.Int("tags", created.Len()),
		logger.Int("references", len(refs)))
	return r.reconciler.Reconcile(ctx, created, byTag)
}

// isolate counts a per-record failure or skip without stopping the run.
func (r *run) isolate(kind Kind, err error) {
	if s, ok := errors.AsType[*SkipCondition](err); ok {
		r.log.Debug("record skipped",
			logger.String("kind", string(kind)),
			logger.String("source_id", s.SourceID),
			logger.String("reason", string(s.Reason)))
		r.coordinator.Count(kind, OutcomeSkipped)
		return
	}
	r.log.Warn("record failed", logger.String("kind", string(kind)), logger.Error(err))
	r.coordinator.Count(kind, OutcomeErrored)
}

// progress returns a callback that logs every ProgressEvery records and at the end.
func (r *run) progress(kind Kind, total int) func(done int) {
	r.log.Info("processing records", logger.String("kind", string(kind)), logger.Int("total", total))
	every := r.cfg.ProgressEvery
	return func(done int) {
		if done%every != 0 && done != total {
			return
		}
		c := r.stats.Counts(kind)
		r.log.Info("progress",
			logger.String("kind", string(kind)),
			logger.Int("done", done),
			logger.Int("total", total),
			logger.Int("created", c.Created),
			logger.Int("updated", c.Updated),
			logger.Int("skipped", c.Skipped),
			logger.Int("errored", c.Errored))
	}
}

// Authenticate verifies the target token before a run. Failure is fatal.
func Authenticate(ctx context.Context, client target.Client, token string) (target.Viewer, error) {
	viewer, err := client.Authenticate(ctx, token)
	if err != nil {
		return target.Viewer{}, fatal(ErrAuthentication, "", err)
	}
	return viewer, nil
}
