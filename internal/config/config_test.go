// ABOUTME: Tests for configuration loading, env expansion, and validation

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
	path := filepath.Join(t.TempDir(), "wagate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
  allowed_origins: ["http://127.0.0.1:8000"]
store:
  driver: "sqlite"
  path: "/tmp/wagate/sessions.db"
worker:
  url: "ws://127.0.0.1:3001/session"
  restart_on_auth_fail: false
sessions:
  handshake_timeout: "5m"
auth:
  jwt_secret: "super-secret"
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"http://127.0.0.1:8000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ws://127.0.0.1:3001/session", cfg.Worker.URL)
	assert.False(t, cfg.Worker.RestartOnAuthFailEnabled())
	assert.Equal(t, 5*time.Minute, cfg.Sessions.HandshakeTimeout)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path, "metrics path defaults when enabled")
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
store:
  path: "/tmp/wagate/sessions.json"
worker:
  url: "ws://127.0.0.1:3001/session"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Driver)
	assert.True(t, cfg.Worker.RestartOnAuthFailEnabled())
	assert.Zero(t, cfg.Sessions.HandshakeTimeout, "handshake timeout disabled by default")
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("WAGATE_TEST_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
store:
  path: "/tmp/wagate/sessions.json"
worker:
  url: "ws://127.0.0.1:3001/session"
auth:
  jwt_secret: "${WAGATE_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http addr",
			content: `
store:
  path: "/tmp/sessions.json"
worker:
  url: "ws://127.0.0.1:3001/session"
`,
			wantErr: "server.http_addr is required",
		},
		{
			name: "tailscale without hostname",
			content: `
tailscale:
  enabled: true
store:
  path: "/tmp/sessions.json"
worker:
  url: "ws://127.0.0.1:3001/session"
`,
			wantErr: "tailscale.hostname is required",
		},
		{
			name: "unknown store driver",
			content: `
server:
  http_addr: "127.0.0.1:8080"
store:
  driver: "postgres"
  path: "/tmp/sessions.json"
worker:
  url: "ws://127.0.0.1:3001/session"
`,
			wantErr: "store.driver",
		},
		{
			name: "missing store path",
			content: `
server:
  http_addr: "127.0.0.1:8080"
worker:
  url: "ws://127.0.0.1:3001/session"
`,
			wantErr: "store.path is required",
		},
		{
			name: "missing worker url",
			content: `
server:
  http_addr: "127.0.0.1:8080"
store:
  path: "/tmp/sessions.json"
`,
			wantErr: "worker.url is required",
		},
		{
			name: "bad handshake timeout",
			content: `
server:
  http_addr: "127.0.0.1:8080"
store:
  path: "/tmp/sessions.json"
worker:
  url: "ws://127.0.0.1:3001/session"
sessions:
  handshake_timeout: "soon"
`,
			wantErr: "parsing handshake_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
