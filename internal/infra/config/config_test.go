package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
servers:
  - id: primary
    host: news.example.com
    port: 563
    username: user
    password: pass
    tls: true
    max_connections: 20
    priority: 1
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 1)
	s := cfg.Servers[0]
	assert.Equal(t, "primary", s.ID)
	assert.Equal(t, "news.example.com", s.Host)
	assert.Equal(t, 563, s.Port)
	assert.True(t, s.TLS)
	assert.Equal(t, 20, s.MaxConnection)

	// Everything else comes from defaults.
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10, cfg.Download.SegmentConcurrency)
	assert.Equal(t, 3, cfg.Download.RetryPasses)
	assert.Equal(t, 0.10, cfg.Download.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 30*time.Second, cfg.Pool.CommandTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
port: "9090"
download:
  segment_concurrency: 4
  retry_passes: 5
  failure_threshold: 0.25
pool:
  acquire_timeout: 10s
  command_timeout: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 4, cfg.Download.SegmentConcurrency)
	assert.Equal(t, 5, cfg.Download.RetryPasses)
	assert.Equal(t, 0.25, cfg.Download.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, time.Minute, cfg.Pool.CommandTimeout)
}

func TestLoad_NoServers(t *testing.T) {
	_, err := Load(writeConfig(t, `port: "8080"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one server")
}

func TestLoad_ServerValidation(t *testing.T) {
	cases := map[string]string{
		"missing id": `
servers:
  - host: news.example.com
    port: 119
`,
		"missing host": `
servers:
  - id: a
    port: 119
`,
		"missing port": `
servers:
  - id: a
    host: news.example.com
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoad_ServerDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
servers:
  - id: a
    host: news.example.com
    port: 119
`))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Servers[0].MaxConnection)
	assert.Equal(t, 1, cfg.Servers[0].Priority)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}
