package migrate

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/geocode"
	"github.com/hearthline/migrator/internal/idmap"
	"github.com/hearthline/migrator/internal/logger"
	"github.com/hearthline/migrator/internal/source"
	"github.com/hearthline/migrator/internal/target"
)

// Source field names.
const (
	fieldEmail        = "email"
	fieldFirstName    = "firstName"
	fieldLastName     = "lastName"
	fieldTeam         = "team"
	fieldTeamID       = "teamId"
	fieldStatus       = "status"
	fieldActiveTeamID = "activeTeamId"
	fieldCreatedAt    = "createdAt"
	fieldUpdatedAt    = "updatedAt"
	fieldAddress      = "address"
	fieldCity         = "city"
	fieldState        = "state"
	fieldZip          = "zip"
	fieldCountry      = "country"
	fieldName         = "name"
	fieldCreatedBy    = "createdBy"
	fieldTagID        = "tagId"
	fieldRecordID     = "recordId"
	fieldRecordType   = "recordType"

	statusApproved = "approved"
	pointType      = "Point"

	recordTypeContacts   = "contacts"
	recordTypeProperties = "properties"
)

// TagReference is one row of the source reference table linking a tag to a record.
type TagReference struct {
	SourceTagID    string
	SourceRecordID string
	RecordKind     target.RecordKind
}

// Transformer shapes source documents into target records.
type Transformer struct {
	mapper   *idmap.Mapper
	geocoder geocode.Geocoder
	logger   logger.Logger
	lower    cases.Caser

	// OnUserFallback is called each time a creator resolves to the unknown-user sentinel.
	OnUserFallback func(sourceUserID string)
}

// NewTransformer returns a Transformer. geocoder may be nil when properties
// are not migrated.
func NewTransformer(mapper *idmap.Mapper, geocoder geocode.Geocoder, log logger.Logger) *Transformer {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Transformer{
		mapper:   mapper,
		geocoder: geocoder,
		logger:   log,
		lower:    cases.Lower(language.Und),
	}
}

// User converts a source user. Users without an email fail; users whose
// teams all fail to map are skipped and never created.
func (t *Transformer) User(doc source.Document) (target.User, error) {
	id := doc.ID()
	email := t.lower.String(doc.String(fieldEmail))
	if email == "" {
		return target.User{}, recordError(KindUsers, id, StageTransform, missingField(fieldEmail))
	}

	var (
		memberships []target.Membership
		position    = make(map[string]int)
	)
	for _, team := range doc.Documents(fieldTeam) {
		orgID, ok := t.mapper.MapOrg(team.String(fieldTeamID))
		if !ok {
			continue
		}

		status := target.MembershipPending
		if strings.EqualFold(team.String(fieldStatus), statusApproved) {
			status = target.MembershipActive
		}
		// Repeated teams collapse into one membership, active if any entry was approved.
		if i, dup := position[orgID]; dup {
			if status == target.MembershipActive {
				memberships[i].Status = status
			}
			continue
		}
		position[orgID] = len(memberships)
		memberships = append(memberships, target.Membership{ID: orgID, Status: status})
	}
	if len(memberships) == 0 {
		return target.User{}, skip(KindUsers, id, SkipNoMemberships)
	}

	// A mapped activeTeamId wins even when the user holds no membership in it.
	activeOrg := memberships[0].ID
	if mapped, ok := t.mapper.MapOrg(doc.String(fieldActiveTeamID)); ok {
		activeOrg = mapped
	}

	name := displayName(doc.String(fieldFirstName), doc.String(fieldLastName))
	if name == "" {
		name = email
	}

	return target.User{
		SourceID:    id,
		Email:       email,
		Name:        name,
		OrgIDs:      memberships,
		ActiveOrgID: activeOrg,
		CreatedAt:   unixMillis(doc, fieldCreatedAt),
		UpdatedAt:   unixMillis(doc, fieldUpdatedAt),
	}, nil
}

// Property converts a source property and geocodes its address. A property
// without an address is skipped before the geocoder is consulted; a failed
// lookup is a record error and nothing is written.
func (t *Transformer) Property(ctx context.Context, doc source.Document) (target.Property, error) {
	id := doc.ID()
	address := doc.String(fieldAddress)
	if address == "" {
		return target.Property{}, skip(KindProperties, id, SkipMissingAddress)
	}

	var orgID string
	if teamID := doc.String(fieldTeamID); teamID != "" {
		mapped, ok := t.mapper.MapOrg(teamID)
		if !ok {
			return target.Property{}, skip(KindProperties, id, SkipUnmappedOrg)
		}
		orgID = mapped
	}

	prop := target.Property{
		SourceID:  id,
		OrgID:     orgID,
		Address:   address,
		City:      doc.String(fieldCity),
		State:     doc.String(fieldState),
		Zip:       doc.String(fieldZip),
		Country:   doc.String(fieldCountry),
		CreatedAt: unixMillis(doc, fieldCreatedAt),
		UpdatedAt: unixMillis(doc, fieldUpdatedAt),
	}

	if t.geocoder == nil {
		return target.Property{}, recordError(KindProperties, id, StageGeocode,
			errors.NewStd("no geocoder configured"))
	}
	point, err := t.geocoder.Geocode(ctx, geocodeQuery(prop))
	if err != nil {
		return target.Property{}, recordError(KindProperties, id, StageGeocode, err)
	}
	prop.Location = &target.Location{Coordinates: [2]float64{point.Lng, point.Lat}, Type: pointType}
	return prop, nil
}

// Tag converts a source tag definition. refs are the tag's references from
// the reference table and only decide RecordType.
func (t *Transformer) Tag(doc source.Document, refs []TagReference) (target.Tag, error) {
	id := doc.ID()
	name := norm.NFC.String(doc.String(fieldName))
	if name == "" {
		return target.Tag{}, recordError(KindTags, id, StageTransform, missingField(fieldName))
	}

	orgID, ok := t.mapper.MapOrg(doc.String(fieldTeamID))
	if !ok {
		return target.Tag{}, skip(KindTags, id, SkipUnmappedOrg)
	}

	creator := doc.String(fieldCreatedBy)
	createdBy, fallback := t.mapper.MapUser(creator)
	if fallback {
		t.logger.Warn("tag creator not mapped, attributing to unknown user",
			logger.String("tag_id", id),
			logger.String("source_user_id", creator),
			logger.String("target_user_id", createdBy))
		if t.OnUserFallback != nil {
			t.OnUserFallback(creator)
		}
	}

	return target.Tag{
		SourceID:   id,
		Name:       name,
		OrgID:      orgID,
		CreatedBy:  createdBy,
		RecordType: recordTypeFor(refs),
		CreatedAt:  unixMillis(doc, fieldCreatedAt),
	}, nil
}

// recordTypeFor picks the association kind of a tag from its references.
//
// Only a tag referenced by contacts and by no property is a "contacts" tag.
// Everything else, including a tag with no references at all, falls through
// to "properties".
// FIXME: the no-reference case probably should not default to properties;
// kept as is until the product owners decide, see DESIGN.md.
func recordTypeFor(refs []TagReference) string {
	var contacts, properties bool
	for _, ref := range refs {
		switch ref.RecordKind {
		case target.RecordContact:
			contacts = true
		case target.RecordProperty:
			properties = true
		}
	}
	if contacts && !properties {
		return recordTypeContacts
	}
	return recordTypeProperties
}

// ParseTagReference reads one row of the reference table. The record type
// accepts singular and plural spellings in any case.
func ParseTagReference(doc source.Document) (TagReference, error) {
	ref := TagReference{
		SourceTagID:    doc.String(fieldTagID),
		SourceRecordID: doc.String(fieldRecordID),
	}
	switch strings.ToLower(doc.String(fieldRecordType)) {
	case "contact", "contacts":
		ref.RecordKind = target.RecordContact
	case "property", "properties":
		ref.RecordKind = target.RecordProperty
	default:
		return TagReference{}, recordError(KindLinks, doc.ID(), StageTransform,
			errors.Newf("unknown record type %q", doc.String(fieldRecordType)).
				Component("migrate").
				Category(errors.CategoryTransform).
				Build())
	}
	if ref.SourceTagID == "" {
		return TagReference{}, recordError(KindLinks, doc.ID(), StageTransform, missingField(fieldTagID))
	}
	if ref.SourceRecordID == "" {
		return TagReference{}, recordError(KindLinks, doc.ID(), StageTransform, missingField(fieldRecordID))
	}
	return ref, nil
}

func displayName(first, last string) string {
	return norm.NFC.String(strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last)))
}

func geocodeQuery(p target.Property) string {
	parts := make([]string, 0, 5)
	for _, s := range []string{p.Address, p.City, p.State, p.Zip, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func unixMillis(doc source.Document, field string) int64 {
	ts, ok := doc.Time(field)
	if !ok {
		return 0
	}
	return ts.UTC().UnixMilli()
}

func missingField(field string) error {
	return errors.Newf("missing required field %q", field).
		Component("migrate").
		Category(errors.CategoryTransform).
		Build()
}
