// Package idmap translates legacy organization and user identifiers into target identifiers.
//
// The tables are static configuration: they are loaded once at startup, copied into
// the Mapper and never modified afterwards. Organization lookups are strict and report
// an unmapped ID instead of guessing. User lookups fall back to a designated
// "unknown user" so that authorship metadata never blocks a record.
package idmap

import (
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hearthline/migrator/internal/errors"
)

// Tables is the static identifier configuration.
type Tables struct {
	Organizations map[string]string `yaml:"organizations"`
	Users         map[string]string `yaml:"users"`
	UnknownUser   string            `yaml:"unknown_user"`
}

// Mapper resolves source identifiers against immutable tables.
type Mapper struct {
	orgs        map[string]string
	users       map[string]string
	unknownUser string
}

// New builds a Mapper from tables. The maps are copied, so later changes to
// tables do not affect the mapper.
func New(tables Tables) *Mapper {
	return &Mapper{
		orgs:        cloneNonEmpty(tables.Organizations),
		users:       cloneNonEmpty(tables.Users),
		unknownUser: tables.UnknownUser,
	}
}

// cloneNonEmpty copies m, dropping entries with an empty target so that
// a blank value can never be returned as a mapped identifier.
func cloneNonEmpty(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// MapOrg returns the target organization for sourceID. ok is false when the
// organization is not registered.
func (m *Mapper) MapOrg(sourceID string) (targetID string, ok bool) {
	targetID, ok = m.orgs[sourceID]
	return targetID, ok
}

// MapUser returns the target user for sourceID, or the unknown-user sentinel.
// fallback reports whether the sentinel was used.
func (m *Mapper) MapUser(sourceID string) (targetID string, fallback bool) {
	if targetID, ok := m.users[sourceID]; ok {
		return targetID, false
	}
	return m.unknownUser, true
}

// UnknownUser returns the sentinel target user ID.
func (m *Mapper) UnknownUser() string {
	return m.unknownUser
}

// OrgCount returns the number of registered organizations.
func (m *Mapper) OrgCount() int {
	return len(m.orgs)
}

// UserCount returns the number of registered users.
func (m *Mapper) UserCount() int {
	return len(m.users)
}

// LoadFile reads tables from a YAML file.
func LoadFile(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, errors.New(err).
			Component("idmap").
			Category(errors.CategoryMapping).
			Context("operation", "read_mapping_file").
			Build()
	}

	var tables Tables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return Tables{}, errors.Newf("parse mapping file: %w", err).
			Component("idmap").
			Category(errors.CategoryFileParsing).
			Context("operation", "parse_mapping_file").
			Build()
	}

	return tables, nil
}

// Merge overlays entries from override onto base. Entries in override win,
// and a non-empty override UnknownUser replaces the base one.
func Merge(base, override Tables) Tables {
	merged := Tables{
		Organizations: make(map[string]string, len(base.Organizations)+len(override.Organizations)),
		Users:         make(map[string]string, len(base.Users)+len(override.Users)),
		UnknownUser:   base.UnknownUser,
	}
	maps.Copy(merged.Organizations, base.Organizations)
	maps.Copy(merged.Organizations, override.Organizations)
	maps.Copy(merged.Users, base.Users)
	maps.Copy(merged.Users, override.Users)
	if override.UnknownUser != "" {
		merged.UnknownUser = override.UnknownUser
	}
	return merged
}
