package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8451", cfg.Server.ListenAddr)
	assert.Equal(t, 72*time.Hour, cfg.Policy.GracePeriod)
	assert.Equal(t, 30*time.Minute, cfg.Policy.RenewalInterval)
	assert.Equal(t, 5*time.Minute, cfg.Policy.ClockSkewTolerance)
	assert.Equal(t, time.Second, cfg.Push.ReconnectBase)
	assert.Equal(t, 2*time.Minute, cfg.Push.ReconnectMax)
	assert.Equal(t, "session.dat", cfg.Store.File)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Auth.PrimaryURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("KEYGATE_AUTH_PRIMARY_URL", "https://license.example.com/v1/")
	t.Setenv("KEYGATE_POLICY_GRACE_PERIOD", "24h")
	t.Setenv("KEYGATE_SERVER_LISTEN_ADDR", "127.0.0.1:9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://license.example.com/v1/", cfg.Auth.PrimaryURL)
	assert.Equal(t, 24*time.Hour, cfg.Policy.GracePeriod)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
}

func TestLoad_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "keygate.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
auth:
  app_owner: owner-from-file
store:
  dir: /tmp/keygate-test
`), 0644))

	t.Setenv("KEYGATE_CONFIG", configFile)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "owner-from-file", cfg.Auth.AppOwner)
	assert.Equal(t, "/tmp/keygate-test", cfg.Store.Dir)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "keygate.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
auth:
  app_owner: owner-from-file
`), 0644))

	t.Setenv("KEYGATE_CONFIG", configFile)
	t.Setenv("KEYGATE_AUTH_APP_OWNER", "owner-from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "owner-from-env", cfg.Auth.AppOwner)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero grace period", map[string]string{"KEYGATE_POLICY_GRACE_PERIOD": "0s"}},
		{"zero renewal interval", map[string]string{"KEYGATE_POLICY_RENEWAL_INTERVAL": "0s"}},
		{"reconnect max below base", map[string]string{"KEYGATE_PUSH_RECONNECT_MAX": "1ms"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KEYGATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestStorePath(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Store: StoreConfig{Dir: filepath.Join(dir, "nested"), File: "session.dat"},
	}

	path, err := cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "session.dat"), path)

	info, err := os.Stat(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestSigningKey(t *testing.T) {
	cfg := &Config{}
	assert.Contains(t, cfg.SigningKey(), "BEGIN PUBLIC KEY")

	cfg.Auth.SigningKeyPEM = "custom-pem"
	assert.Equal(t, "custom-pem", cfg.SigningKey())
}
