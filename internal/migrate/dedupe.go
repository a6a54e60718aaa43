package migrate

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/hearthline/migrator/internal/target"
)

// Match is the result of classifying a candidate against existing records.
type Match int

const (
	MatchNew          Match = iota // not present
	MatchByID                      // a target record carries the candidate's source ID
	MatchByNaturalKey              // only the natural key matched
)

func (m Match) String() string {
	switch m {
	case MatchByID:
		return "by-id"
	case MatchByNaturalKey:
		return "by-natural-key"
	default:
		return "new"
	}
}

// Index is the run's single view of existing target records for one kind.
// It is built once from the backend and updated after every create; it is
// never re-queried.
type Index struct {
	bySourceID   map[string]string
	byNaturalKey map[string]string
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		bySourceID:   make(map[string]string),
		byNaturalKey: make(map[string]string),
	}
}

// Add registers a target record. Empty keys are ignored; the first record
// seen for a key wins.
func (ix *Index) Add(sourceID, naturalKey, targetID string) {
	if sourceID != "" {
		if _, exists := ix.bySourceID[sourceID]; !exists {
			ix.bySourceID[sourceID] = targetID
		}
	}
	if naturalKey != "" {
		if _, exists := ix.byNaturalKey[naturalKey]; !exists {
			ix.byNaturalKey[naturalKey] = targetID
		}
	}
}

// Classify reports how a candidate matches and the matching target ID.
// An ID match takes precedence over a natural key match.
func (ix *Index) Classify(sourceID, naturalKey string) (Match, string) {
	if sourceID != "" {
		if id, ok := ix.bySourceID[sourceID]; ok {
			return MatchByID, id
		}
	}
	if naturalKey != "" {
		if id, ok := ix.byNaturalKey[naturalKey]; ok {
			return MatchByNaturalKey, id
		}
	}
	return MatchNew, ""
}

// Len returns the number of records indexed by source ID.
func (ix *Index) Len() int {
	return len(ix.bySourceID)
}

// UserKey is the natural key of a user: the case-folded email.
func UserKey(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// TagKey is the natural key of a tag: its folded name within the owning organization.
func TagKey(orgID, name string) string {
	name = strings.Join(strings.Fields(norm.NFC.String(name)), " ")
	if name == "" {
		return ""
	}
	return orgID + "\x00" + cases.Fold().String(name)
}

// PropertyKey is the natural key of a property. Properties have no business
// key, so it is the source ID.
func PropertyKey(sourceID string) string {
	return sourceID
}

// IndexUsers builds an Index over existing users.
func IndexUsers(users []target.User) *Index {
	ix := NewIndex()
	for _, u := range users {
		ix.Add(u.SourceID, UserKey(u.Email), u.ID)
	}
	return ix
}

// IndexProperties builds an Index over existing properties.
func IndexProperties(props []target.Property) *Index {
	ix := NewIndex()
	for _, p := range props {
		ix.Add(p.SourceID, PropertyKey(p.SourceID), p.ID)
	}
	return ix
}

// IndexTags builds an Index over existing tags.
func IndexTags(tags []target.Tag) *Index {
	ix := NewIndex()
	for _, t := range tags {
		ix.Add(t.SourceID, TagKey(t.OrgID, t.Name), t.ID)
	}
	return ix
}
