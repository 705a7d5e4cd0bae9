package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
db:
  dsn: postgres://localhost:5432/scheduler
analysis:
  base_url: http://models.internal:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 168, cfg.Worker.FreshnessTTLHours)
	require.Equal(t, "https://public.api.bsky.app", cfg.Provider.BaseURL)
	require.Equal(t, "*/10 * * * *", cfg.Sweep.Schedule)
	require.True(t, cfg.Logging.Development)
}

func TestLoadMissingDSNFails(t *testing.T) {
	path := writeConfigFile(t, `
analysis:
  base_url: http://models.internal:9000
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "db.dsn")
}

func TestLoadAuthEnabledRequiresKey(t *testing.T) {
	path := writeConfigFile(t, `
db:
  dsn: postgres://localhost:5432/scheduler
analysis:
  base_url: http://models.internal:9000
auth:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.api_key")
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
db:
  dsn: postgres://localhost:5432/scheduler
  max_conns: 20
analysis:
  base_url: http://models.internal:9000
worker:
  concurrency: 8
  queue: analyze-posts
ingest:
  max_like_pages: 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, int32(20), cfg.DB.MaxConns)
	require.Equal(t, 8, cfg.Worker.Concurrency)
	require.Equal(t, "analyze-posts", cfg.Worker.Queue)
	require.Equal(t, 25, cfg.Ingest.MaxLikePages)
}
