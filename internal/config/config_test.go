package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noEnv is passed as the .env file so the working directory is never read.
const noEnv = "testdata-does-not-exist.env"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, TransportWS, c.Transport.Kind)
	assert.Equal(t, 50, c.API.HistoryLimit)
	assert.Equal(t, 2*time.Second, c.Typing.Idle)
	assert.Equal(t, 5*time.Second, c.Typing.Stale)
	assert.Equal(t, 5*time.Second, c.Matcher.Tolerance)
	assert.True(t, c.Limits.Throttle)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default().API.BaseURL, c.API.BaseURL)
}

func TestLoad_YAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
transport:
  kind: nats
  nats_url: nats://broker:4222
  reconnect_delay: 5s
api:
  base_url: https://chat.example.com
  history_limit: 20
typing:
  idle: 3s
state:
  backend: redis
  redis_addr: cache:6379
log:
  level: debug
  format: json
`)
	c, err := Load(p, noEnv)
	require.NoError(t, err)

	assert.Equal(t, TransportNATS, c.Transport.Kind)
	assert.Equal(t, "nats://broker:4222", c.NATS().URL)
	assert.Equal(t, 5*time.Second, c.NATS().ReconnectWait)
	assert.Equal(t, "https://chat.example.com", c.APIClient().BaseURL)

	sc := c.Session()
	assert.Equal(t, 20, sc.HistoryLimit)
	assert.Equal(t, 3*time.Second, sc.Typing.IdleTimeout)
	assert.Equal(t, 5*time.Second, sc.Typing.StaleTimeout, "unset keys keep defaults")

	assert.Equal(t, BackendRedis, c.State.Backend)
	assert.Equal(t, FormatJSON, c.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "config.yaml", "api:\n  base_url: http://from-file\n")
	t.Setenv("CHATSYNC_API_URL", "http://from-env")
	t.Setenv("CHATSYNC_HISTORY_LIMIT", "10")
	t.Setenv("CHATSYNC_API_TIMEOUT", "3s")
	t.Setenv("CHATSYNC_THROTTLE", "false")

	c, err := Load(p, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", c.API.BaseURL)
	assert.Equal(t, 10, c.API.HistoryLimit)
	assert.Equal(t, 3*time.Second, c.API.Timeout)
	assert.False(t, c.Limits.Throttle)
}

func TestLoad_DotEnv(t *testing.T) {
	env := writeFile(t, ".env", "CHATSYNC_WS_URL=ws://dotenv:9000/ws\n")
	t.Cleanup(func() { os.Unsetenv("CHATSYNC_WS_URL") })

	c, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, "ws://dotenv:9000/ws", c.WS().URL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad yaml", yaml: "transport: [\n"},
		{name: "unknown transport", yaml: "transport:\n  kind: carrier-pigeon\n"},
		{name: "unknown backend", yaml: "state:\n  backend: sqlite\n"},
		{name: "bad level", yaml: "log:\n  level: loud\n"},
		{name: "bad format", yaml: "log:\n  format: xml\n"},
		{name: "zero history", yaml: "api:\n  history_limit: 0\n"},
		{name: "bad duration env", env: map[string]string{"CHATSYNC_API_TIMEOUT": "soon"}},
		{name: "bad int env", env: map[string]string{"CHATSYNC_HISTORY_LIMIT": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			p := writeFile(t, "config.yaml", tt.yaml)
			_, err := Load(p, noEnv)
			assert.Error(t, err)
		})
	}
}

func TestLoad_BrokenDotEnv(t *testing.T) {
	env := writeFile(t, ".env", "CHATSYNC_WS_URL='unterminated\n")
	_, err := Load("", env)
	assert.Error(t, err)

	_, err = Load("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err, "a missing .env is not an error")
}
