package target

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/migrator/internal/errors"
)

func newShadow(t *testing.T) *ShadowBackend {
	t.Helper()
	backend, err := OpenShadowBackend(ShadowConfig{DSN: ":memory:", Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestShadowBackend_Users(t *testing.T) {
	t.Parallel()
	backend := newShadow(t)
	ctx := t.Context()

	id, err := backend.CreateUser(ctx, User{
		SourceID:    "s1",
		Email:       "a@x.com",
		Name:        "Ada Lovelace",
		OrgIDs:      []Membership{{ID: "T1", Status: MembershipActive}},
		ActiveOrgID: "T1",
		CreatedAt:   1600000000000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, backend.UpdateUser(ctx, id, User{
		SourceID:    "s1",
		Email:       "a@x.com",
		Name:        "Ada King",
		OrgIDs:      []Membership{{ID: "T1", Status: MembershipPending}},
		ActiveOrgID: "T1",
	}))

	users, err := backend.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, id, users[0].ID)
	assert.Equal(t, "Ada King", users[0].Name)
	assert.Equal(t, []Membership{{ID: "T1", Status: MembershipPending}}, users[0].OrgIDs)

	err = backend.UpdateUser(ctx, "missing", User{Email: "b@x.com"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestShadowBackend_PropertyLocationRoundTrip(t *testing.T) {
	t.Parallel()
	backend := newShadow(t)
	ctx := t.Context()

	withPoint, err := backend.CreateProperty(ctx, Property{
		SourceID: "p1",
		Address:  "1 Main St",
		Location: &Location{Coordinates: [2]float64{-97.74, 30.27}, Type: "Point"},
	})
	require.NoError(t, err)
	_, err = backend.CreateProperty(ctx, Property{SourceID: "p2", Address: "2 Main St"})
	require.NoError(t, err)

	props, err := backend.ListProperties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 2)

	byID := map[string]Property{}
	for _, p := range props {
		byID[p.SourceID] = p
	}
	require.NotNil(t, byID["p1"].Location)
	assert.Equal(t, [2]float64{-97.74, 30.27}, byID["p1"].Location.Coordinates)
	assert.Nil(t, byID["p2"].Location)

	found, ok, err := backend.FindRecordBySourceID(ctx, RecordProperty, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, withPoint, found)
}

func TestShadowBackend_TagLinks(t *testing.T) {
	t.Parallel()
	backend := newShadow(t)
	ctx := t.Context()

	tagID, err := backend.CreateTag(ctx, Tag{SourceID: "tag1", Name: "Hot Lead", OrgID: "T1", RecordType: "contacts"})
	require.NoError(t, err)

	contactID, err := backend.SeedContact(ctx, "c1", "Grace")
	require.NoError(t, err)
	again, err := backend.SeedContact(ctx, "c1", "Grace")
	require.NoError(t, err)
	assert.Equal(t, contactID, again, "seeding is idempotent")

	resolved, ok, err := backend.FindRecordBySourceID(ctx, RecordContact, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, contactID, resolved)

	_, ok, err = backend.FindRecordBySourceID(ctx, RecordContact, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	tags, err := backend.GetRecordTags(ctx, RecordContact, contactID)
	require.NoError(t, err)
	assert.Empty(t, tags)

	require.NoError(t, backend.AddTagLink(ctx, RecordContact, contactID, tagID))

	tags, err = backend.GetRecordTags(ctx, RecordContact, contactID)
	require.NoError(t, err)
	assert.Equal(t, []string{tagID}, tags)

	n, err := backend.LinkCount(ctx, tagID, contactID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = backend.GetRecordTags(ctx, RecordKind("deal"), contactID)
	require.Error(t, err)
}

func TestShadowBackend_FileSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "shadow.db")
	ctx := t.Context()

	first, err := OpenShadowBackend(ShadowConfig{DSN: path, Logger: testLogger()})
	require.NoError(t, err)
	_, err = first.CreateTag(ctx, Tag{SourceID: "tag1", Name: "Cold"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenShadowBackend(ShadowConfig{DSN: path, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	tags, err := second.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "Cold", tags[0].Name)
}
