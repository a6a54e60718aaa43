package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/migrator/internal/target"
)

type linkFixture struct {
	shadow    *target.ShadowBackend
	contactID string
	tagID     string
	created   *CreatedTagIndex
	refs      ReferenceIndex
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	ctx := t.Context()
	shadow := newShadow(t)

	contactID, err := shadow.SeedContact(ctx, "c1", "Jane")
	require.NoError(t, err)
	tagID, err := shadow.CreateTag(ctx, target.Tag{SourceID: "tag1", Name: "Hot Lead", OrgID: "T1"})
	require.NoError(t, err)

	created := NewCreatedTagIndex()
	created.Put("tag1", tagID)

	return &linkFixture{
		shadow:    shadow,
		contactID: contactID,
		tagID:     tagID,
		created:   created,
		refs: GroupReferences([]TagReference{
			{SourceTagID: "tag1", SourceRecordID: "c1", RecordKind: target.RecordContact},
			{SourceTagID: "tag1", SourceRecordID: "c1", RecordKind: target.RecordContact},
			{SourceTagID: "tag1", SourceRecordID: "missing", RecordKind: target.RecordContact},
		}),
	}
}

func newReconciler(backend target.Backend) (*Reconciler, *RunStatistics) {
	stats := NewRunStatistics("test")
	return NewReconciler(backend, stats, nil, nil, testLogger()), stats
}

func TestReconciler_LinksOnce(t *testing.T) {
	t.Parallel()
	f := newLinkFixture(t)

	rec, stats := newReconciler(f.shadow)
	rec.SetState("tag1", TagCreated)
	require.NoError(t, rec.Reconcile(t.Context(), f.created, f.refs))

	assert.Equal(t, TagDone, rec.State("tag1"))
	assert.Equal(t, Counts{Total: 3, Created: 1, Skipped: 1, Errored: 1}, stats.Counts(KindLinks),
		"duplicate reference skipped, unresolved record errored")

	n, err := f.shadow.LinkCount(t.Context(), f.tagID, f.contactID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestReconciler_RepeatRunDoesNotDuplicate(t *testing.T) {
	t.Parallel()
	f := newLinkFixture(t)

	for range 2 {
		rec, _ := newReconciler(f.shadow)
		rec.SetState("tag1", TagCreated)
		require.NoError(t, rec.Reconcile(t.Context(), f.created, f.refs))
	}

	n, err := f.shadow.LinkCount(t.Context(), f.tagID, f.contactID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestReconciler_OnlyCreatedTags(t *testing.T) {
	t.Parallel()
	f := newLinkFixture(t)

	rec, stats := newReconciler(f.shadow)
	rec.SetState("tag1", TagSkipped)
	require.NoError(t, rec.Reconcile(t.Context(), f.created, f.refs))

	assert.Equal(t, TagSkipped, rec.State("tag1"))
	assert.Zero(t, stats.Counts(KindLinks).Total)
	assert.Equal(t, TagPending, rec.State("never-seen"))
}

func TestReconciler_FailuresAreCounted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend func(*target.ShadowBackend) *flakyBackend
	}{
		{"link write fails", func(s *target.ShadowBackend) *flakyBackend { return &flakyBackend{Backend: s, failLinks: true} }},
		{"lookup fails", func(s *target.ShadowBackend) *flakyBackend { return &flakyBackend{Backend: s, failFind: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newLinkFixture(t)

			rec, stats := newReconciler(tt.backend(f.shadow))
			rec.SetState("tag1", TagCreated)
			require.NoError(t, rec.Reconcile(t.Context(), f.created, f.refs))

			assert.Equal(t, TagDone, rec.State("tag1"), "link failures do not stop the tag")
			assert.Equal(t, 3, stats.Counts(KindLinks).Errored)
			n, err := f.shadow.LinkCount(t.Context(), f.tagID, f.contactID)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestReconciler_Cancelled(t *testing.T) {
	t.Parallel()
	f := newLinkFixture(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec, _ := newReconciler(f.shadow)
	rec.SetState("tag1", TagCreated)
	require.ErrorIs(t, rec.Reconcile(ctx, f.created, f.refs), context.Canceled)
}

func TestCreatedTagIndex(t *testing.T) {
	t.Parallel()

	ix := NewCreatedTagIndex()
	ix.Put("b", "tb")
	ix.Put("a", "ta")
	ix.Put("b", "tb2")

	assert.Equal(t, []string{"b", "a"}, ix.SourceIDs())
	id, ok := ix.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "tb2", id)
	assert.Equal(t, 2, ix.Len())
}
