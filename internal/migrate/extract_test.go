package migrate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/source"
)

func TestFetchAll_FollowsCursor(t *testing.T) {
	t.Parallel()

	store := source.NewMemoryStore()
	for i := range 7 {
		store.Insert("users", source.Document{"_id": fmt.Sprintf("u%d", i), "kept": i%3 != 0})
	}

	docs, err := FetchAll(t.Context(), store, "users", source.Filter{"kept": true}, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 4)
	assert.Equal(t, 2, store.ListCalls())
}

func TestFetchAll_EmptyCollection(t *testing.T) {
	t.Parallel()

	store := source.NewMemoryStore()
	docs, err := FetchAll(t.Context(), store, "tags", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 1, store.ListCalls())
}

func TestFetchAll_PageErrorIsFatal(t *testing.T) {
	t.Parallel()

	store := source.NewMemoryStore()
	store.FailOn("users", errors.NewStd("connection refused"))

	_, err := FetchAll(t.Context(), store, "users", nil, 10)
	require.ErrorIs(t, err, ErrExtraction)
	assert.True(t, errors.IsCategory(err, errors.CategoryExtraction))
}

// stuckStore keeps returning the same non-final page.
type stuckStore struct {
	source.Store
	cursor string
	calls  int
}

func (s *stuckStore) List(context.Context, string, source.Filter, string, int) (source.Page, error) {
	s.calls++
	return source.Page{Documents: []source.Document{{"_id": "x"}}, Cursor: s.cursor}, nil
}

func TestFetchAll_StalledCursorEnds(t *testing.T) {
	t.Parallel()

	for _, cursor := range []string{"", "same"} {
		store := &stuckStore{cursor: cursor}
		_, err := FetchAll(t.Context(), store, "users", nil, 1)
		require.ErrorIs(t, err, ErrExtraction, "cursor %q", cursor)
		assert.LessOrEqual(t, store.calls, 2)
	}
}

func TestFetchAll_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := FetchAll(ctx, source.NewMemoryStore(), "users", nil, 10)
	require.ErrorIs(t, err, context.Canceled)
}
