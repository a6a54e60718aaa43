package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/migrator/internal/buildinfo"
	"github.com/hearthline/migrator/internal/config"
)

func TestRootCommand(t *testing.T) {
	root := RootCommand(&config.Context{}, buildinfo.NewContext("1.4.0", "2026-10-01"))

	assert.Equal(t, "1.4.0 (built 2026-10-01)", root.Version)
	for _, name := range []string{"migrate", "count", "check"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	for _, flag := range []string{"config", "debug", "shadow-db", "dry-run"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}
