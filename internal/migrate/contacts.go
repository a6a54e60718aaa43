package migrate

import (
	"context"

	"github.com/hearthline/migrator/internal/source"
)

// ContactSeeder is implemented by rehearsal backends, which start without
// the contacts a live target already holds.
type ContactSeeder interface {
	SeedContact(ctx context.Context, sourceID, name string) (string, error)
}

// SeedContacts copies the legacy contacts into seeder so that tag links to
// contacts resolve during a rehearsal. It returns the number of contacts
// seeded; a failed page is fatal like any other extraction failure.
func SeedContacts(ctx context.Context, store source.Store, collection string, seeder ContactSeeder, pageSize int) (int, error) {
	docs, err := FetchAll(ctx, store, collection, nil, pageSize)
	if err != nil {
		return 0, err
	}
	for i, doc := range docs {
		name := displayName(doc.String(fieldFirstName), doc.String(fieldLastName))
		if name == "" {
			name = doc.String(fieldName)
		}
		if _, err := seeder.SeedContact(ctx, doc.ID(), name); err != nil {
			return i, fatal(ErrExtraction, KindLinks, err)
		}
	}
	return len(docs), nil
}
