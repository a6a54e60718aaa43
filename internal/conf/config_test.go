package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper isolates tests that touch the global viper instance.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FromExplicitFile(t *testing.T) {
	resetViper(t)

	path := writeConfig(t, `
source:
  uri: mongodb://mongo.internal:27017
  database: crm
target:
  endpoint: https://api.example.com
  token: tok
mapping:
  unknownuser: user_unknown
  organizations:
    team1: org_1
migration:
  pagesize: 250
  writedelay: 50ms
  filters:
    users: '{"deleted": false}'
`)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://mongo.internal:27017", settings.Source.URI)
	assert.Equal(t, "crm", settings.Source.Database)
	assert.Equal(t, "users", settings.Source.Collections.Users, "defaults fill unspecified collections")
	assert.Equal(t, "https://api.example.com", settings.Target.Endpoint)
	assert.Equal(t, 250, settings.Migration.PageSize)
	assert.Equal(t, 50*time.Millisecond, settings.Migration.WriteDelay)
	assert.Equal(t, "org_1", settings.Mapping.Organizations["team1"])
	assert.Equal(t, `{"deleted": false}`, settings.Migration.Filters["users"])
	assert.Same(t, settings, GetSettings())
}

func TestLoad_DefaultWriteDelay(t *testing.T) {
	resetViper(t)

	path := writeConfig(t, `
target:
  shadowdb: rehearsal.db
`)

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, settings.Migration.WriteDelay)
	assert.Equal(t, 100, settings.Migration.PageSize)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	resetViper(t)
	t.Setenv("MIGRATOR_TARGET_TOKEN", "from-env")
	t.Setenv("MIGRATOR_MIGRATION_PAGESIZE", "42")

	path := writeConfig(t, `
target:
  endpoint: https://api.example.com
  token: from-file
`)

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", settings.Target.Token)
	assert.Equal(t, 42, settings.Migration.PageSize)
}

func TestLoad_ResolvesSecrets(t *testing.T) {
	resetViper(t)
	t.Setenv("MIGRATOR_TEST_GEOKEY", "geo-key")

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("tok-from-file\n"), 0o600))

	path := writeConfig(t, `
target:
  endpoint: https://api.example.com
  token: ignored
  tokenfile: `+tokenFile+`
geocoding:
  apikey: ${MIGRATOR_TEST_GEOKEY}
`)

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-from-file", settings.Target.Token)
	assert.Equal(t, "geo-key", settings.Geocoding.APIKey)
}

func TestLoad_UnresolvedSecret(t *testing.T) {
	resetViper(t)

	path := writeConfig(t, `
target:
  endpoint: https://api.example.com
  token: ${MIGRATOR_TEST_UNSET_TOKEN}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.token")
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	resetViper(t)
	t.Setenv("MIGRATOR_MIGRATION_PAGESIZE", "lots")

	_, err := Load(writeConfig(t, "target:\n  shadowdb: x.db\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIGRATOR_MIGRATION_PAGESIZE")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	resetViper(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		return &Settings{
			Source: SourceSettings{
				URI:      "mongodb://localhost:27017",
				Database: "legacy",
				Collections: CollectionSettings{
					Users: "users", Properties: "properties", Tags: "tags", TagReferences: "tag_references",
				},
			},
			Target:    TargetSettings{Endpoint: "https://api.example.com", Token: "t"},
			Migration: MigrationSettings{PageSize: 100, WriteDelay: 200 * time.Millisecond},
		}
	}

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"bad source scheme", func(s *Settings) { s.Source.URI = "postgres://x" }, "source.uri"},
		{"missing database", func(s *Settings) { s.Source.Database = "" }, "source.database"},
		{"missing endpoint", func(s *Settings) { s.Target.Endpoint = "" }, "target.endpoint"},
		{"missing token", func(s *Settings) { s.Target.Token = "" }, "target.token"},
		{"shadow needs no endpoint", func(s *Settings) { s.Target = TargetSettings{ShadowDB: "x.db"} }, ""},
		{"page size zero", func(s *Settings) { s.Migration.PageSize = 0 }, "migration.pagesize"},
		{"negative delay", func(s *Settings) { s.Migration.WriteDelay = -time.Second }, "migration.writedelay"},
		{"bad filter", func(s *Settings) { s.Migration.Filters = map[string]string{"users": "{"} }, "migration.filters.users"},
		{"bad geocoding endpoint", func(s *Settings) { s.Geocoding.Endpoint = "ftp://geo" }, "geocoding.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
