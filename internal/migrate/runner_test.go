package migrate

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/geocode"
	"github.com/hearthline/migrator/internal/source"
	"github.com/hearthline/migrator/internal/target"
)

// countingRecorder keeps the calls a run makes to its Recorder.
type countingRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	phases    []string
	writes    []string
	fallbacks int
	runs      []bool
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: make(map[string]int)}
}

func (r *countingRecorder) RecordOutcome(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[kind+"/"+outcome]++
}

func (r *countingRecorder) ObserveWrite(kind, operation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, kind+"/"+operation)
}

func (r *countingRecorder) ObservePhase(kind string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, kind)
}

func (r *countingRecorder) RecordUserFallback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks++
}

func (r *countingRecorder) RecordRun(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, success)
}

type runFixture struct {
	store     *source.MemoryStore
	shadow    *target.ShadowBackend
	geocoder  *fakeGeocoder
	recorder  *countingRecorder
	contactID string
}

func newRunFixture(t *testing.T) *runFixture {
	t.Helper()

	store := source.NewMemoryStore()
	store.Insert("users",
		source.Document{"_id": "u1", "email": "A@x.com", "firstName": "Ann", "team": []any{map[string]any{"teamId": "K1", "status": "approved"}}},
		source.Document{"_id": "u2", "email": "b@x.com", "team": []any{}},
		source.Document{"_id": "u3", "email": "c@x.com", "team": []any{map[string]any{"teamId": "GONE"}}},
	)
	store.Insert("properties",
		source.Document{"_id": "p1", "address": "1 Main St", "city": "Austin", "teamId": "K1"},
		source.Document{"_id": "p2", "address": "Nowhere Lane", "teamId": "K1"},
		source.Document{"_id": "p3", "city": "Austin", "teamId": "K1"},
	)
	store.Insert("tags",
		source.Document{"_id": "tag1", "name": "Hot Lead", "teamId": "K1", "createdBy": "u-src-1"},
		source.Document{"_id": "tag2", "name": "Cold", "teamId": "K2", "createdBy": "stranger"},
	)
	store.Insert("tag_references",
		source.Document{"_id": "r1", "tagId": "tag1", "recordId": "p1", "recordType": "property"},
		source.Document{"_id": "r2", "tagId": "tag1", "recordId": "c1", "recordType": "contact"},
		source.Document{"_id": "r3", "tagId": "tag1", "recordId": "p2", "recordType": "property"},
		source.Document{"_id": "r4", "tagId": "tag2", "recordId": "c1", "recordType": "deal"},
	)

	shadow := newShadow(t)
	contactID, err := shadow.SeedContact(t.Context(), "c1", "Jane")
	require.NoError(t, err)

	return &runFixture{
		store:  store,
		shadow: shadow,
		geocoder: newFakeGeocoder(map[string]geocode.Point{
			"1 Main St, Austin": {Lng: -97.74, Lat: 30.27},
		}),
		recorder:  newCountingRecorder(),
		contactID: contactID,
	}
}

func (f *runFixture) runner() *Runner {
	return NewRunner(Deps{
		Source:   f.store,
		Target:   f.shadow,
		Mapper:   testMapper(),
		Geocoder: f.geocoder,
		Recorder: f.recorder,
		Logger:   testLogger(),
	}, Config{PageSize: 2, ProgressEvery: 1})
}

func TestRunner_FullRun(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newRunFixture(t)

	stats, err := f.runner().Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []Kind{KindUsers, KindProperties, KindLinks, KindTags}, stats.Kinds())
	assert.Equal(t, Counts{Total: 3, Created: 1, Skipped: 2}, stats.Counts(KindUsers))
	assert.Equal(t, Counts{Total: 3, Created: 1, Skipped: 1, Errored: 1}, stats.Counts(KindProperties))
	assert.Equal(t, Counts{Total: 2, Created: 2}, stats.Counts(KindTags))
	// r4 has an unknown record type, r3 points at a property that was never written.
	assert.Equal(t, Counts{Total: 4, Created: 2, Errored: 2}, stats.Counts(KindLinks))

	users, err := f.shadow.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1, "users without resolved memberships are never created")
	assert.Equal(t, "a@x.com", users[0].Email)

	props, err := f.shadow.ListProperties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 1, "a property that cannot be geocoded is not written")
	require.NotNil(t, props[0].Location)
	assert.Equal(t, [2]float64{-97.74, 30.27}, props[0].Location.Coordinates)

	tags, err := f.shadow.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	byName := map[string]target.Tag{}
	for _, tag := range tags {
		byName[tag.Name] = tag
	}
	assert.Equal(t, "properties", byName["Hot Lead"].RecordType)
	assert.Equal(t, "u-tgt-1", byName["Hot Lead"].CreatedBy)
	assert.Equal(t, "u-unknown", byName["Cold"].CreatedBy)

	hot := byName["Hot Lead"].ID
	for _, recordID := range []string{f.contactID, props[0].ID} {
		n, err := f.shadow.LinkCount(ctx, hot, recordID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}

	assert.Equal(t, 1, f.recorder.fallbacks)
	assert.Equal(t, []bool{true}, f.recorder.runs)
	assert.Equal(t, []string{"users", "properties", "tags"}, f.recorder.phases)
	assert.Equal(t, 1, f.recorder.outcomes["properties/errored"])
}

func TestRunner_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newRunFixture(t)

	_, err := f.runner().Run(ctx)
	require.NoError(t, err)
	stats, err := f.runner().Run(ctx)
	require.NoError(t, err)

	for _, kind := range []Kind{KindUsers, KindProperties, KindTags, KindLinks} {
		assert.Zero(t, stats.Counts(kind).Created, "second run creates no %s", kind)
	}
	assert.Equal(t, 1, stats.Counts(KindUsers).Updated)
	assert.Equal(t, 1, stats.Counts(KindProperties).Updated)
	assert.Equal(t, 2, stats.Counts(KindTags).Updated)
	assert.Equal(t, 2, stats.Counts(KindLinks).Skipped)

	users, err := f.shadow.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	tags, err := f.shadow.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	props, err := f.shadow.ListProperties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 1)
	for _, tag := range tags {
		for _, recordID := range []string{f.contactID, props[0].ID} {
			n, err := f.shadow.LinkCount(ctx, tag.ID, recordID)
			require.NoError(t, err)
			assert.LessOrEqual(t, n, int64(1))
		}
	}
}

func TestRunner_SelectedKinds(t *testing.T) {
	t.Parallel()
	f := newRunFixture(t)

	stats, err := f.runner().Run(t.Context(), KindUsers)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindUsers}, stats.Kinds())
	assert.Zero(t, f.geocoder.Calls())
}

func TestRunner_ExtractionFailureIsFatal(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newRunFixture(t)
	f.store.FailOn("users", errors.NewStd("connection reset"))

	stats, err := f.runner().Run(ctx)
	require.ErrorIs(t, err, ErrExtraction)
	require.NotNil(t, stats)
	assert.Equal(t, []bool{false}, f.recorder.runs)
	assert.Equal(t, []string{"users"}, f.recorder.phases, "later kinds are not attempted")

	users, err := f.shadow.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRunner_UnknownKind(t *testing.T) {
	t.Parallel()
	f := newRunFixture(t)

	_, err := f.runner().Run(t.Context(), KindLinks)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

// cancellingStore cancels the run as soon as the first page is read.
type cancellingStore struct {
	*source.MemoryStore
	cancel context.CancelFunc
}

func (s *cancellingStore) List(ctx context.Context, collection string, filter source.Filter, cursor string, pageSize int) (source.Page, error) {
	page, err := s.MemoryStore.List(ctx, collection, filter, cursor, pageSize)
	s.cancel()
	return page, err
}

func TestRunner_Cancelled(t *testing.T) {
	t.Parallel()
	f := newRunFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	r := NewRunner(Deps{
		Source: &cancellingStore{MemoryStore: f.store, cancel: cancel},
		Target: f.shadow,
		Mapper: testMapper(),
		Logger: testLogger(),
	}, Config{PageSize: 10})

	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	users, err := f.shadow.ListUsers(t.Context())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRunStatistics_WriteSummary(t *testing.T) {
	t.Parallel()

	stats := NewRunStatistics("run-1")
	stats.Record(KindUsers, OutcomeCreated)
	stats.Record(KindUsers, OutcomeErrored)
	stats.Record(KindTags, OutcomeSkipped)
	stats.Finish()

	var buf bytes.Buffer
	stats.WriteSummary(&buf)
	out := buf.String()

	assert.Contains(t, out, "run run-1")
	assert.Regexp(t, `users\s+2\s+1\s+0\s+0\s+1`, out)
	assert.Regexp(t, `TOTAL\s+3\s+1\s+0\s+1\s+1`, out)
	assert.Equal(t, 1, stats.Errored())
}
