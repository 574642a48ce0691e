package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"UPSTREAM_USERNAME", "UPSTREAM_PASSWORD", "STORAGE_URI", "HOST", "PORT"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_RequiresCredentialsAndStorage(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvVarsPopulateConfig(t *testing.T) {
	clearEnv(t)
	os.Setenv("UPSTREAM_USERNAME", "u")
	os.Setenv("UPSTREAM_PASSWORD", "p")
	os.Setenv("STORAGE_URI", "file:./data.db")
	os.Setenv("PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.UpstreamUsername)
	assert.Equal(t, "p", cfg.UpstreamPassword)
	assert.Equal(t, "file:./data.db", cfg.StorageURI)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
upstreamUsername: from-yaml
upstreamPassword: from-yaml
storageURI: file:./yaml.db
port: "7070"
`), 0o644))

	os.Setenv("PORT", "9999")

	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.UpstreamUsername, "yaml values apply when env is unset")
	assert.Equal(t, "9999", cfg.Port, "environment variables always win over yaml overrides")
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	os.Setenv("UPSTREAM_USERNAME", "u")
	os.Setenv("UPSTREAM_PASSWORD", "p")
	os.Setenv("STORAGE_URI", "file:./data.db")

	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.NoError(t, err)
}

func TestDefault_MatchesSpecCadences(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 100_000_000, int(cfg.Cadences.PositionsBatch))      // 100ms in ns
	assert.Equal(t, 3, cfg.Timeouts.SignalRMaxAttempts)
}
