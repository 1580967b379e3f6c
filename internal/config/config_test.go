package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("env values win over defaults", func(t *testing.T) {
		t.Setenv("APP_PORT", "9999")
		t.Setenv("LLM_MODEL", "test-model")
		t.Setenv("STREAM_SUBSCRIBER_BUFFER", "8")

		cfg := defaultConfig()
		overrideByEnv(cfg)

		assert.Equal(t, 9999, cfg.App.Port)
		assert.Equal(t, "test-model", cfg.LLM.Model)
		assert.Equal(t, 8, cfg.Stream.SubscriberBuffer)
	})

	t.Run("malformed int keeps default", func(t *testing.T) {
		t.Setenv("APP_PORT", "not-a-port")

		cfg := defaultConfig()
		overrideByEnv(cfg)

		assert.Equal(t, 8080, cfg.App.Port)
	})
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.User = "chat"
	cfg.MySQL.Password = "secret"
	cfg.MySQL.Host = "db"
	cfg.MySQL.Port = 3307
	cfg.MySQL.DB = "chatdb"
	cfg.MySQL.Params = "parseTime=true"

	assert.Equal(t, "chat:secret@tcp(db:3307)/chatdb?parseTime=true", cfg.MySQLDSN())
}

func TestLoadAgentSeeds(t *testing.T) {
	t.Run("parses seed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - id: helper
    name: Helper
    model: gpt-4o-mini
    system: You are helpful.
    default: true
  - id: critic
`), 0o644))

		seeds, err := LoadAgentSeeds(path)
		require.NoError(t, err)
		require.Len(t, seeds, 2)
		assert.Equal(t, "Helper", seeds[0].Name)
		assert.True(t, seeds[0].Default)
		assert.Equal(t, "critic", seeds[1].Name, "name falls back to id")
	})

	t.Run("missing file is empty, not an error", func(t *testing.T) {
		seeds, err := LoadAgentSeeds(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Empty(t, seeds)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agents.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: Anonymous\n"), 0o644))

		_, err := LoadAgentSeeds(path)
		assert.Error(t, err)
	})
}
