package migrate

import (
	"context"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/source"
)

// FetchAll reads every document of collection matching filter, one page of
// pageSize at a time. Any page error is fatal and wrapped in ErrExtraction:
// duplicate detection downstream needs the complete set.
//
// The loop ends when a page is empty or marked done. A page that is neither
// but hands back an empty or unchanged cursor would repeat forever, so it
// ends the loop with an error.
func FetchAll(ctx context.Context, store source.Store, collection string, filter source.Filter, pageSize int) ([]source.Document, error) {
	var (
		all    []source.Document
		cursor string
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := store.List(ctx, collection, filter, cursor, pageSize)
		if err != nil {
			return nil, errors.Newf("%w: list %s: %w", ErrExtraction, collection, err).
				Component("migrate").
				Category(errors.CategoryExtraction).
				Context("collection", collection).
				Context("fetched", len(all)).
				Build()
		}

		all = append(all, page.Documents...)
		if page.Done || len(page.Documents) == 0 {
			return all, nil
		}

		if page.Cursor == "" || page.Cursor == cursor {
			return nil, errors.Newf("%w: %s cursor did not advance after %d documents", ErrExtraction, collection, len(all)).
				Component("migrate").
				Category(errors.CategoryExtraction).
				Context("collection", collection).
				Build()
		}
		cursor = page.Cursor
	}
}
