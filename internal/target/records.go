// Package target talks to the destination backend.
//
// Client is the raw remote procedure surface (authenticate, query, mutation).
// Backend is the domain surface the migration engine consumes: listing,
// creating and updating users, properties and tags, and managing tag links
// on records. RPCBackend implements Backend over a Client; ShadowBackend
// implements it over a local SQL database for rehearsal runs.
package target

import "context"

// Membership status values.
const (
	MembershipActive  = "active"
	MembershipPending = "pending"
)

// RecordKind identifies a taggable record.
type RecordKind string

const (
	RecordContact  RecordKind = "contact"
	RecordProperty RecordKind = "property"
)

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	return k == RecordContact || k == RecordProperty
}

// Membership links a user to an organization.
type Membership struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// User is a target user account.
type User struct {
	ID          string       `json:"_id,omitempty"`
	SourceID    string       `json:"sourceId"`
	Email       string       `json:"email"`
	Name        string       `json:"name"`
	OrgIDs      []Membership `json:"orgIds"`
	ActiveOrgID string       `json:"activeOrgId"`
	CreatedAt   int64        `json:"createdAt,omitempty"`
	UpdatedAt   int64        `json:"updatedAt,omitempty"`
}

// Location is a GeoJSON point. Coordinates are [longitude, latitude].
type Location struct {
	Coordinates [2]float64 `json:"coordinates"`
	Type        string     `json:"type"`
}

// Property is a geocoded location record.
type Property struct {
	ID        string    `json:"_id,omitempty"`
	SourceID  string    `json:"sourceId"`
	OrgID     string    `json:"orgId,omitempty"`
	Address   string    `json:"address"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Zip       string    `json:"zip,omitempty"`
	Country   string    `json:"country,omitempty"`
	Location  *Location `json:"location,omitempty"`
	CreatedAt int64     `json:"createdAt,omitempty"`
	UpdatedAt int64     `json:"updatedAt,omitempty"`
}

// Tag is a taxonomy entry owned by an organization.
type Tag struct {
	ID         string `json:"_id,omitempty"`
	SourceID   string `json:"sourceId"`
	Name       string `json:"name"`
	OrgID      string `json:"orgId"`
	CreatedBy  string `json:"createdBy"`
	RecordType string `json:"recordType"`
	CreatedAt  int64  `json:"createdAt,omitempty"`
}

// Viewer is the identity behind the access token.
type Viewer struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Backend is the domain surface of the target store.
type Backend interface {
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u User) (string, error)
	UpdateUser(ctx context.Context, id string, u User) error

	ListProperties(ctx context.Context) ([]Property, error)
	CreateProperty(ctx context.Context, p Property) (string, error)
	UpdateProperty(ctx context.Context, id string, p Property) error

	ListTags(ctx context.Context) ([]Tag, error)
	CreateTag(ctx context.Context, t Tag) (string, error)
	UpdateTag(ctx context.Context, id string, t Tag) error

	// FindRecordBySourceID resolves a taggable record's target ID from its
	// source ID. found is false when no such record exists.
	FindRecordBySourceID(ctx context.Context, kind RecordKind, sourceID string) (id string, found bool, err error)

	// GetRecordTags returns the IDs of the tags currently linked to a record.
	GetRecordTags(ctx context.Context, kind RecordKind, recordID string) ([]string, error)

	// AddTagLink links a tag to a record.
	AddTagLink(ctx context.Context, kind RecordKind, recordID, tagID string) error

	Close() error
}
