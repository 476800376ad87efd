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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/beacon
auth:
  jwt_secret: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, 10*time.Second, cfg.Notifications.Webhook.Timeout)
	assert.Equal(t, "beacon-notify/1.0", cfg.Notifications.Webhook.UserAgent)
	assert.Equal(t, 587, cfg.Notifications.Email.SMTPPort)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9999"
database:
  url: postgres://localhost/beacon
  migrate: false
auth:
  jwt_secret: secret
notifications:
  base_url: https://status.acme.dev
  webhook:
    timeout: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.False(t, cfg.Database.Migrate)
	assert.Equal(t, "https://status.acme.dev", cfg.Notifications.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Notifications.Webhook.Timeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9999"
database:
  url: postgres://localhost/beacon
auth:
  jwt_secret: secret
`)

	t.Setenv("BEACON_SERVER__PORT", "7777")
	t.Setenv("BEACON_LOG__LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("BEACON_DATABASE__URL", "postgres://localhost/beacon")
	t.Setenv("BEACON_AUTH__JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/beacon", cfg.Database.URL)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	t.Setenv("BEACON_DATABASE__URL", "postgres://localhost/beacon")
	t.Setenv("BEACON_AUTH__JWT_SECRET", "secret")

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing database url",
			content: "auth:\n  jwt_secret: s\n",
			wantErr: "database.url",
		},
		{
			name:    "missing jwt secret",
			content: "database:\n  url: postgres://localhost/beacon\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name: "email enabled without smtp host",
			content: `
database:
  url: postgres://localhost/beacon
auth:
  jwt_secret: s
notifications:
  email:
    enabled: true
    from_address: noreply@acme.dev
`,
			wantErr: "smtp_host",
		},
		{
			name: "email enabled without from address",
			content: `
database:
  url: postgres://localhost/beacon
auth:
  jwt_secret: s
notifications:
  email:
    enabled: true
    smtp_host: smtp.acme.dev
`,
			wantErr: "from_address",
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
