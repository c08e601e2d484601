package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// FUNCTIONAL VALIDATION TEST: Defaults match the scripted load profile
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.Equal(t, 1000, config.Load.VirtualUsers)
	assert.Equal(t, 10*time.Second, config.Load.Duration)
	assert.Equal(t, time.Second, config.Load.HTTPThinkTime)
	assert.Equal(t, 5*time.Second, config.Load.WSThinkTime)
	assert.Equal(t, 5*time.Second, config.WebSocket.SessionTimeout)
	assert.Equal(t, "TestRoom", config.WebSocket.RoomName)
	assert.Empty(t, config.Database.Path, "history store is opt-in")
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero virtual users", func(c *Config) { c.Load.VirtualUsers = 0 }},
		{"zero duration", func(c *Config) { c.Load.Duration = 0 }},
		{"negative iterations", func(c *Config) { c.Load.Iterations = -1 }},
		{"negative think time", func(c *Config) { c.Load.HTTPThinkTime = -time.Second }},
		{"empty base url", func(c *Config) { c.Target.BaseURL = "" }},
		{"relative base url", func(c *Config) { c.Target.BaseURL = "localhost:8080" }},
		{"ws base url", func(c *Config) { c.Target.BaseURL = "ws://localhost:8080" }},
		{"zero request timeout", func(c *Config) { c.Target.RequestTimeout = 0 }},
		{"zero session timeout", func(c *Config) { c.WebSocket.SessionTimeout = 0 }},
		{"empty room name", func(c *Config) { c.WebSocket.RoomName = "" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad stub port", func(c *Config) { c.Stub.Port = 70000 }},
		{"empty jwt secret", func(c *Config) { c.Stub.JWTSecret = "" }},
		{"nil target", func(c *Config) { c.Target = nil }},
		{"nil websocket", func(c *Config) { c.WebSocket = nil }},
		{"database without timeout", func(c *Config) {
			c.Database.Path = "runs.db"
			c.Database.Timeout = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CHATLOAD_BASE_URL", "http://172.18.0.4:8080/")
	t.Setenv("CHATLOAD_VUS", "25")
	t.Setenv("CHATLOAD_DURATION", "3s")
	t.Setenv("CHATLOAD_ITERATIONS", "4")
	t.Setenv("CHATLOAD_WS_SESSION_TIMEOUT", "750ms")
	t.Setenv("CHATLOAD_WS_UNIQUE_USERS", "true")
	t.Setenv("CHATLOAD_DATABASE_PATH", "/tmp/runs.db")
	t.Setenv("CHATLOAD_LOG_LEVEL", "debug")

	config := LoadFromEnv()

	assert.Equal(t, "http://172.18.0.4:8080", config.Target.BaseURL)
	assert.Equal(t, 25, config.Load.VirtualUsers)
	assert.Equal(t, 3*time.Second, config.Load.Duration)
	assert.Equal(t, 4, config.Load.Iterations)
	assert.Equal(t, 750*time.Millisecond, config.WebSocket.SessionTimeout)
	assert.True(t, config.WebSocket.UniqueUsers)
	assert.Equal(t, "/tmp/runs.db", config.Database.Path)
	assert.Equal(t, "debug", config.Log.Level)
}

func TestConfig_LoadFromEnvEdgeCases(t *testing.T) {
	t.Setenv("CHATLOAD_VUS", "lots")
	t.Setenv("CHATLOAD_DURATION", "forever")

	config := LoadFromEnv()

	// Invalid values fall back to defaults
	assert.Equal(t, 1000, config.Load.VirtualUsers)
	assert.Equal(t, 10*time.Second, config.Load.Duration)
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeFile(t, "chatload.yaml", `
target:
  base_url: http://example.test:9000
  request_timeout: 2s
load:
  virtual_users: 50
  duration: 30s
  iterations: 3
  http_think_time: 250ms
websocket:
  session_timeout: 2s
  room_name: LoadRoom
  unique_users: true
database:
  path: ./runs.db
log:
  format: json
stub:
  messages_per_minute: 100
`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://example.test:9000", config.Target.BaseURL)
	assert.Equal(t, 2*time.Second, config.Target.RequestTimeout)
	assert.Equal(t, 50, config.Load.VirtualUsers)
	assert.Equal(t, 30*time.Second, config.Load.Duration)
	assert.Equal(t, 3, config.Load.Iterations)
	assert.Equal(t, 250*time.Millisecond, config.Load.HTTPThinkTime)
	assert.Equal(t, 5*time.Second, config.Load.WSThinkTime, "unset fields keep defaults")
	assert.Equal(t, "LoadRoom", config.WebSocket.RoomName)
	assert.True(t, config.WebSocket.UniqueUsers)
	assert.Equal(t, "./runs.db", config.Database.Path)
	assert.Equal(t, "json", config.Log.Format)
	assert.Equal(t, 100, config.Stub.MessagesPerMinute)
}

func TestConfig_LoadFromFileAcceptsJSON(t *testing.T) {
	path := writeFile(t, "chatload.json", `{"load": {"virtual_users": 2, "duration": "1s"}}`)

	config, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, config.Load.VirtualUsers)
	assert.Equal(t, time.Second, config.Load.Duration)
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "load: [unclosed"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "duration.yaml", "load:\n  duration: soon\n"))
	assert.ErrorContains(t, err, "load.duration")

	_, err = LoadFromFile(writeFile(t, "format.yaml", "log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "log format")
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CHATLOAD_VUS", "7")
	t.Setenv("CHATLOAD_DURATION", "2s")

	// Environment only
	config, err := LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 7, config.Load.VirtualUsers)
	assert.Equal(t, 2*time.Second, config.Load.Duration)

	// File overrides environment, environment still fills the rest
	path := writeFile(t, "chatload.yaml", "load:\n  virtual_users: 9\n")
	config, err = LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, 9, config.Load.VirtualUsers)
	assert.Equal(t, 2*time.Second, config.Load.Duration)

	_, err = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_LoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, ".env")), "missing file is ignored")
	assert.NoError(t, LoadDotEnv(""))

	key := "CHATLOAD_TEST_DOTENV_ROOM"
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=FromDotEnv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv(key) })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "FromDotEnv", os.Getenv(key))
}

func TestConfig_ThinkTimeAndWebSocketURL(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, time.Second, config.ThinkTime("http"))
	assert.Equal(t, 5*time.Second, config.ThinkTime("ws"))

	config.Target.BaseURL = "http://172.18.0.4:8080"
	assert.Equal(t, "ws://172.18.0.4:8080", config.WebSocketBaseURL())

	config.Target.BaseURL = "https://chat.example.com"
	assert.Equal(t, "wss://chat.example.com", config.WebSocketBaseURL())
}
