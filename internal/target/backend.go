package target

import (
	"context"

	"github.com/hearthline/migrator/internal/errors"
)

// Backend function names.
const (
	fnListUsers      = "users:list"
	fnCreateUser     = "users:create"
	fnUpdateUser     = "users:update"
	fnListProperties = "properties:list"
	fnCreateProperty = "properties:create"
	fnUpdateProperty = "properties:update"
	fnListTags       = "tags:list"
	fnCreateTag      = "tags:create"
	fnUpdateTag      = "tags:update"
	fnFindBySourceID = "records:findBySourceId"
	fnGetRecordTags  = "records:getTags"
	fnAddTagLink     = "records:addTag"
)

// RPCBackend implements Backend over a Client.
type RPCBackend struct {
	client Client
}

// NewRPCBackend returns a Backend that issues calls through client.
func NewRPCBackend(client Client) *RPCBackend {
	return &RPCBackend{client: client}
}

// ListUsers implements Backend.
func (b *RPCBackend) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := b.client.Query(ctx, fnListUsers, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser implements Backend.
func (b *RPCBackend) CreateUser(ctx context.Context, u User) (string, error) {
	u.ID = ""
	return b.create(ctx, fnCreateUser, u)
}

// UpdateUser implements Backend.
func (b *RPCBackend) UpdateUser(ctx context.Context, id string, u User) error {
	u.ID = ""
	return b.client.Mutation(ctx, fnUpdateUser, map[string]any{"id": id, "user": u}, nil)
}

// ListProperties implements Backend.
func (b *RPCBackend) ListProperties(ctx context.Context) ([]Property, error) {
	var props []Property
	if err := b.client.Query(ctx, fnListProperties, nil, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// CreateProperty implements Backend.
func (b *RPCBackend) CreateProperty(ctx context.Context, p Property) (string, error) {
	p.ID = ""
	return b.create(ctx, fnCreateProperty, p)
}

// UpdateProperty implements Backend.
func (b *RPCBackend) UpdateProperty(ctx context.Context, id string, p Property) error {
	p.ID = ""
	return b.client.Mutation(ctx, fnUpdateProperty, map[string]any{"id": id, "property": p}, nil)
}

// ListTags implements Backend.
func (b *RPCBackend) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := b.client.Query(ctx, fnListTags, nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// CreateTag implements Backend.
func (b *RPCBackend) CreateTag(ctx context.Context, t Tag) (string, error) {
	t.ID = ""
	return b.create(ctx, fnCreateTag, t)
}

// UpdateTag implements Backend.
func (b *RPCBackend) UpdateTag(ctx context.Context, id string, t Tag) error {
	t.ID = ""
	return b.client.Mutation(ctx, fnUpdateTag, map[string]any{"id": id, "tag": t}, nil)
}

// FindRecordBySourceID implements Backend.
func (b *RPCBackend) FindRecordBySourceID(ctx context.Context, kind RecordKind, sourceID string) (string, bool, error) {
	if err := checkKind(kind); err != nil {
		return "", false, err
	}
	var id *string
	args := map[string]any{"kind": kind, "sourceId": sourceID}
	if err := b.client.Query(ctx, fnFindBySourceID, args, &id); err != nil {
		return "", false, err
	}
	if id == nil || *id == "" {
		return "", false, nil
	}
	return *id, true, nil
}

// GetRecordTags implements Backend.
func (b *RPCBackend) GetRecordTags(ctx context.Context, kind RecordKind, recordID string) ([]string, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	var tagIDs []string
	args := map[string]any{"kind": kind, "id": recordID}
	if err := b.client.Query(ctx, fnGetRecordTags, args, &tagIDs); err != nil {
		return nil, err
	}
	return tagIDs, nil
}

// AddTagLink implements Backend.
func (b *RPCBackend) AddTagLink(ctx context.Context, kind RecordKind, recordID, tagID string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	args := map[string]any{"kind": kind, "id": recordID, "tagId": tagID}
	return b.client.Mutation(ctx, fnAddTagLink, args, nil)
}

// Close closes the underlying client.
func (b *RPCBackend) Close() error {
	b.client.Close()
	return nil
}

func (b *RPCBackend) create(ctx context.Context, fn string, record any) (string, error) {
	var id string
	if err := b.client.Mutation(ctx, fn, record, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.Newf("%s returned no id", fn).
			Component("target").
			Category(errors.CategoryWrite).
			Build()
	}
	return id, nil
}

func checkKind(kind RecordKind) error {
	if kind.Valid() {
		return nil
	}
	return errors.Newf("unknown record kind %q", kind).
		Component("target").
		Category(errors.CategoryValidation).
		Build()
}
