// conf/validate.go

package conf

import (
	"encoding/json"
	"fmt"
	"strings"
)

const maxPageSize = 10000

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateSourceSettings,
		validateTargetSettings,
		validateGeocodingSettings,
		validateMigrationSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSourceSettings(settings *Settings) error {
	s := &settings.Source
	if err := validateEnvMongoURI(s.URI); err != nil {
		return fmt.Errorf("source.uri %w", err)
	}
	if strings.TrimSpace(s.Database) == "" {
		return fmt.Errorf("source.database is required")
	}
	c := s.Collections
	if c.Users == "" || c.Properties == "" || c.Tags == "" || c.TagReferences == "" {
		return fmt.Errorf("source.collections must name users, properties, tags and tagreferences")
	}
	return nil
}

// validateTargetSettings requires an endpoint and token unless a shadow database is used.
func validateTargetSettings(settings *Settings) error {
	t := &settings.Target
	if t.ShadowDB != "" {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("target.endpoint is required unless target.shadowdb is set")
	}
	if err := validateEnvURL(t.Endpoint); err != nil {
		return fmt.Errorf("target.endpoint %w", err)
	}
	if t.Token == "" {
		return fmt.Errorf("target.token is required unless target.shadowdb is set")
	}
	return nil
}

func validateGeocodingSettings(settings *Settings) error {
	g := &settings.Geocoding
	if g.Endpoint != "" {
		if err := validateEnvURL(g.Endpoint); err != nil {
			return fmt.Errorf("geocoding.endpoint %w", err)
		}
	}
	if g.RequestsPerSecond < 0 {
		return fmt.Errorf("geocoding.requestspersecond must not be negative")
	}
	return nil
}

func validateMigrationSettings(settings *Settings) error {
	m := &settings.Migration
	if m.PageSize <= 0 || m.PageSize > maxPageSize {
		return fmt.Errorf("migration.pagesize must be between 1 and %d, got %d", maxPageSize, m.PageSize)
	}
	if m.WriteDelay < 0 {
		return fmt.Errorf("migration.writedelay must not be negative")
	}
	for kind, raw := range m.Filters {
		var filter map[string]any
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return fmt.Errorf("migration.filters.%s must be a JSON object: %w", kind, err)
		}
	}
	return nil
}
