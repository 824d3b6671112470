package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "/admin", cfg.ContextPath)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.ConnectDelay)
	assert.Equal(t, "X-Admin-User", cfg.Admin.UserHeader)
	assert.Equal(t, 50, cfg.Form.CollectionPageSize)
	assert.Equal(t, 50, cfg.Selectize.MaxResults)
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openadmin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
contextPath: console/
store:
  driver: sqlite
  dsn: file.db
  connectDelay: 500ms
selectize:
  maxResults: 10
`), 0o600))
	t.Setenv("OPENADMIN_STORE_DSN", "env.db")
	t.Setenv("OPENADMIN_LOG_LEVEL", "debug")

	cfg, err := Load([]string{"--config", path, "--port", "7000", "--user", "editor"})
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port, "flag beats file")
	assert.Equal(t, "/console", cfg.ContextPath)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "env.db", cfg.Store.DSN, "env beats file")
	assert.Equal(t, 500*time.Millisecond, cfg.Store.ConnectDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "editor", cfg.Admin.DefaultUser)
	assert.Equal(t, 10, cfg.Selectize.MaxResults)
}

func TestLoadFileRepoConfig(t *testing.T) {
	cfg, err := LoadFile("../../config/openadmin.yaml")
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Admin.DefaultUser)
	assert.True(t, cfg.Store.AutoMigrate)
}

func TestLoadBadFlag(t *testing.T) {
	_, err := Load([]string{"--nope"})
	require.Error(t, err)
}
