package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/geocode"
	"github.com/hearthline/migrator/internal/source"
	"github.com/hearthline/migrator/internal/target"
)

func TestTransformer_User(t *testing.T) {
	t.Parallel()

	t.Run("approved member of a mapped team", func(t *testing.T) {
		t.Parallel()
		user, err := NewTransformer(testMapper(), nil, testLogger()).User(source.Document{
			"_id":   "s1",
			"email": "A@x.com",
			"team":  []any{map[string]any{"teamId": "K1", "status": "Approved"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", user.Email)
		assert.Equal(t, []target.Membership{{ID: "T1", Status: target.MembershipActive}}, user.OrgIDs)
		assert.Equal(t, "T1", user.ActiveOrgID)
		assert.Equal(t, "s1", user.SourceID)
	})

	t.Run("name, status and active org", func(t *testing.T) {
		t.Parallel()
		created := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
		user, err := NewTransformer(testMapper(), nil, testLogger()).User(source.Document{
			"_id":          "s2",
			"email":        "b@x.com",
			"firstName":    " Zoe ",
			"lastName":     "Café",
			"activeTeamId": "K2",
			"createdAt":    created,
			"team": []any{
				map[string]any{"teamId": "K1", "status": "invited"},
				map[string]any{"teamId": "UNMAPPED", "status": "approved"},
				map[string]any{"teamId": "K2", "status": "APPROVED"},
				map[string]any{"teamId": "K1", "status": "approved"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Zoe Café", user.Name, "name is trimmed and NFC-composed")
		assert.Equal(t, []target.Membership{
			{ID: "T1", Status: target.MembershipActive},
			{ID: "T2", Status: target.MembershipActive},
		}, user.OrgIDs, "a later approved entry upgrades a repeated team")
		assert.Equal(t, "T2", user.ActiveOrgID)
		assert.Equal(t, created.UnixMilli(), user.CreatedAt)
	})

	t.Run("repeated team keeps the approved status", func(t *testing.T) {
		t.Parallel()
		user, err := NewTransformer(testMapper(), nil, testLogger()).User(source.Document{
			"_id":   "s6",
			"email": "f@x.com",
			"team": []any{
				map[string]any{"teamId": "K1", "status": "invited"},
				map[string]any{"teamId": "K1", "status": "approved"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []target.Membership{{ID: "T1", Status: target.MembershipActive}}, user.OrgIDs)

		user, err = NewTransformer(testMapper(), nil, testLogger()).User(source.Document{
			"_id":   "s7",
			"email": "g@x.com",
			"team": []any{
				map[string]any{"teamId": "K1", "status": "approved"},
				map[string]any{"teamId": "K1", "status": "invited"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []target.Membership{{ID: "T1", Status: target.MembershipActive}}, user.OrgIDs,
			"a later pending entry never downgrades")
	})

	t.Run("mapped active org is kept without a membership", func(t *testing.T) {
		t.Parallel()
		user, err := NewTransformer(testMapper(), nil, testLogger()).User(source.Document{
			"_id":          "s8",
			"email":        "h@x.com",
			"activeTeamId": "K2",
			"team":         []any{map[string]any{"teamId": "K1", "status": "approved"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []target.Membership{{ID: "T1", Status: target.MembershipActive}}, user.OrgIDs)
		assert.Equal(t, "T2", user.ActiveOrgID)
	})

	t.Run("unmapped active org falls back to first membership", func(t *testing.T) {
		t.Parallel()
		user, err := NewTransformer(testMapper(), nil, testLogger()).User(source.Document{
			"_id":          "s3",
			"email":        "c@x.com",
			"activeTeamId": "GONE",
			"team":         []any{map[string]any{"teamId": "K2"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "T2", user.ActiveOrgID)
		assert.Equal(t, "c@x.com", user.Name, "email stands in for a missing name")
	})

	t.Run("no resolved memberships is a skip", func(t *testing.T) {
		t.Parallel()
		_, err := NewTransformer(testMapper(), nil, testLogger()).User(source.Document{
			"_id":   "s4",
			"email": "d@x.com",
			"team":  []any{map[string]any{"teamId": "UNMAPPED", "status": "approved"}},
		})
		s, ok := errors.AsType[*SkipCondition](err)
		require.True(t, ok)
		assert.Equal(t, SkipNoMemberships, s.Reason)
	})

	t.Run("missing email is a record error", func(t *testing.T) {
		t.Parallel()
		_, err := NewTransformer(testMapper(), nil, testLogger()).User(source.Document{"_id": "s5", "team": []any{map[string]any{"teamId": "K1"}}})
		re, ok := errors.AsType[*RecordError](err)
		require.True(t, ok)
		assert.Equal(t, StageTransform, re.Stage)
	})
}

func TestTransformer_Property(t *testing.T) {
	t.Parallel()

	t.Run("geocoded", func(t *testing.T) {
		t.Parallel()
		geo := newFakeGeocoder(map[string]geocode.Point{
			"1 Main St, Austin, TX, 78701": {Lng: -97.74, Lat: 30.27},
		})
		prop, err := NewTransformer(testMapper(), geo, testLogger()).Property(t.Context(), source.Document{
			"_id":     "p1",
			"address": "1 Main St",
			"city":    "Austin",
			"state":   "TX",
			"zip":     int64(78701),
			"teamId":  "K1",
		})
		require.NoError(t, err)
		require.NotNil(t, prop.Location)
		assert.Equal(t, [2]float64{-97.74, 30.27}, prop.Location.Coordinates, "coordinates are [lng, lat]")
		assert.Equal(t, "Point", prop.Location.Type)
		assert.Equal(t, "T1", prop.OrgID)
		assert.Equal(t, "78701", prop.Zip)
	})

	t.Run("missing address never geocodes", func(t *testing.T) {
		t.Parallel()
		geo := newFakeGeocoder(nil)
		_, err := NewTransformer(testMapper(), geo, testLogger()).Property(t.Context(), source.Document{
			"_id":  "p2",
			"city": "Austin",
		})
		s, ok := errors.AsType[*SkipCondition](err)
		require.True(t, ok)
		assert.Equal(t, SkipMissingAddress, s.Reason)
		assert.Zero(t, geo.Calls())
	})

	t.Run("no geocoding results is a record error", func(t *testing.T) {
		t.Parallel()
		geo := newFakeGeocoder(nil)
		_, err := NewTransformer(testMapper(), geo, testLogger()).Property(t.Context(), source.Document{
			"_id":     "p3",
			"address": "@@@",
		})
		re, ok := errors.AsType[*RecordError](err)
		require.True(t, ok)
		assert.Equal(t, StageGeocode, re.Stage)
		assert.ErrorIs(t, err, geocode.ErrNoResults)
	})

	t.Run("unmapped org is skipped before geocoding", func(t *testing.T) {
		t.Parallel()
		geo := newFakeGeocoder(nil)
		_, err := NewTransformer(testMapper(), geo, testLogger()).Property(t.Context(), source.Document{
			"_id":     "p4",
			"address": "2 Main St",
			"teamId":  "UNMAPPED",
		})
		s, ok := errors.AsType[*SkipCondition](err)
		require.True(t, ok)
		assert.Equal(t, SkipUnmappedOrg, s.Reason)
		assert.Zero(t, geo.Calls())
	})
}

func TestTransformer_Tag(t *testing.T) {
	t.Parallel()

	var fallbacks []string
	tr := NewTransformer(testMapper(), nil, testLogger())
	tr.OnUserFallback = func(id string) { fallbacks = append(fallbacks, id) }

	tag, err := tr.Tag(source.Document{
		"_id":       "tag1",
		"name":      "Hot Lead",
		"teamId":    "K1",
		"createdBy": "u-src-1",
	}, []TagReference{{SourceTagID: "tag1", SourceRecordID: "p1", RecordKind: target.RecordProperty}})
	require.NoError(t, err)
	assert.Equal(t, "properties", tag.RecordType)
	assert.Equal(t, "T1", tag.OrgID)
	assert.Equal(t, "u-tgt-1", tag.CreatedBy)
	assert.Empty(t, fallbacks)

	tag, err = tr.Tag(source.Document{
		"_id":       "tag2",
		"name":      "Orphan",
		"teamId":    "K1",
		"createdBy": "someone-else",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "u-unknown", tag.CreatedBy)
	assert.Equal(t, []string{"someone-else"}, fallbacks)

	_, err = tr.Tag(source.Document{"_id": "tag3", "name": "Nowhere", "teamId": "UNMAPPED"}, nil)
	_, skipped := errors.AsType[*SkipCondition](err)
	assert.True(t, skipped)

	_, err = tr.Tag(source.Document{"_id": "tag4", "teamId": "K1"}, nil)
	_, failed := errors.AsType[*RecordError](err)
	assert.True(t, failed)
}

func TestRecordTypeFor(t *testing.T) {
	t.Parallel()

	contact := TagReference{RecordKind: target.RecordContact}
	property := TagReference{RecordKind: target.RecordProperty}

	tests := []struct {
		name string
		refs []TagReference
		want string
	}{
		{"contacts only", []TagReference{contact, contact}, "contacts"},
		{"properties only", []TagReference{property}, "properties"},
		{"both", []TagReference{contact, property}, "properties"},
		{"neither defaults to properties", nil, "properties"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, recordTypeFor(tt.refs), tt.name)
	}
}

func TestParseTagReference(t *testing.T) {
	t.Parallel()

	ref, err := ParseTagReference(source.Document{"_id": "r1", "tagId": "tag1", "recordId": "c1", "recordType": "Contacts"})
	require.NoError(t, err)
	assert.Equal(t, TagReference{SourceTagID: "tag1", SourceRecordID: "c1", RecordKind: target.RecordContact}, ref)

	_, err = ParseTagReference(source.Document{"_id": "r2", "tagId": "tag1", "recordId": "d1", "recordType": "deal"})
	require.Error(t, err)

	_, err = ParseTagReference(source.Document{"_id": "r3", "recordId": "c1", "recordType": "contact"})
	require.Error(t, err)
}
