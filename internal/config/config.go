package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chatload/pkg/types"
)

// ARCHITECTURAL DISCOVERY: Configuration layer is the only place run settings live
// Passed into the application at construction - no process-wide mutable state
type Config struct {
	Target    *TargetConfig    `yaml:"target"`
	Load      *LoadConfig      `yaml:"load"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	Database  *DatabaseConfig  `yaml:"database"`
	Metrics   *MetricsConfig   `yaml:"metrics"`
	Log       *LogConfig       `yaml:"log"`
	Stub      *StubConfig      `yaml:"stub"`
}

// TargetConfig locates the service under test
type TargetConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// LoadConfig shapes the virtual-user population
// FUNCTIONAL DISCOVERY: Iterations of 0 means the run is bounded by Duration only
type LoadConfig struct {
	VirtualUsers  int
	Duration      time.Duration
	Iterations    int
	HTTPThinkTime time.Duration
	WSThinkTime   time.Duration
}

// WebSocketConfig bounds each room session
type WebSocketConfig struct {
	SessionTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	RoomName         string
	UniqueUsers      bool
}

// DatabaseConfig enables the run history store when Path is set
type DatabaseConfig struct {
	Path    string
	Timeout time.Duration
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

// StubConfig configures the in-process fake target service
type StubConfig struct {
	Host      string
	Port      int
	JWTSecret string
	TokenTTL  time.Duration

	// MessagesPerMinute caps room messages per user; 0 is unlimited
	MessagesPerMinute int
}

// FUNCTIONAL DISCOVERY: Defaults follow the scripted load profile -
// 1000 users for 10 seconds, 1s HTTP think time, 5s room think time and session bound
func DefaultConfig() *Config {
	return &Config{
		Target: &TargetConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: 30 * time.Second,
		},
		Load: &LoadConfig{
			VirtualUsers:  1000,
			Duration:      10 * time.Second,
			Iterations:    0,
			HTTPThinkTime: time.Second,
			WSThinkTime:   5 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			SessionTimeout:   5 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     time.Second,
			RoomName:         "TestRoom",
			UniqueUsers:      false,
		},
		Database: &DatabaseConfig{
			Path:    "",
			Timeout: 30 * time.Second,
		},
		Metrics: &MetricsConfig{
			Addr: "",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
		Stub: &StubConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			JWTSecret: "chatload-stub-secret",
			TokenTTL:  15 * time.Minute,
		},
	}
}

// Validate rejects configurations that cannot drive a run
func (c *Config) Validate() error {
	if c.Target == nil {
		return fmt.Errorf("target configuration is required")
	}

	if c.Target.BaseURL == "" {
		return fmt.Errorf("target base URL cannot be empty")
	}

	u, err := url.Parse(c.Target.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target base URL must be an absolute http(s) URL, got %q", c.Target.BaseURL)
	}

	if c.Target.RequestTimeout <= 0 {
		return fmt.Errorf("target request timeout must be positive")
	}

	if c.Load == nil {
		return fmt.Errorf("load configuration is required")
	}

	if c.Load.VirtualUsers < 1 {
		return fmt.Errorf("virtual users must be at least 1")
	}

	if c.Load.Duration <= 0 {
		return fmt.Errorf("load duration must be positive")
	}

	if c.Load.Iterations < 0 {
		return fmt.Errorf("iterations cannot be negative")
	}

	if c.Load.HTTPThinkTime < 0 || c.Load.WSThinkTime < 0 {
		return fmt.Errorf("think time cannot be negative")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}

	if c.WebSocket.SessionTimeout <= 0 {
		return fmt.Errorf("WebSocket session timeout must be positive")
	}

	if c.WebSocket.HandshakeTimeout <= 0 {
		return fmt.Errorf("WebSocket handshake timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.RoomName == "" {
		return fmt.Errorf("WebSocket room name cannot be empty")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if c.Database.Path != "" && c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}

	if c.Stub == nil {
		return fmt.Errorf("stub configuration is required")
	}

	if c.Stub.Port < 0 || c.Stub.Port > 65535 {
		return fmt.Errorf("stub port must be between 0 and 65535")
	}

	if c.Stub.JWTSecret == "" {
		return fmt.Errorf("stub JWT secret cannot be empty")
	}

	if c.Stub.MessagesPerMinute < 0 {
		return fmt.Errorf("stub message limit cannot be negative")
	}

	if c.Stub.TokenTTL <= 0 {
		return fmt.Errorf("stub token TTL must be positive")
	}

	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Variables already set are left untouched.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults with fallback
// Unparseable values are ignored and the previous value is kept
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	if v := os.Getenv("CHATLOAD_BASE_URL"); v != "" {
		config.Target.BaseURL = strings.TrimRight(v, "/")
	}

	envDuration("CHATLOAD_REQUEST_TIMEOUT", &config.Target.RequestTimeout)
	envInt("CHATLOAD_VUS", &config.Load.VirtualUsers)
	envDuration("CHATLOAD_DURATION", &config.Load.Duration)
	envInt("CHATLOAD_ITERATIONS", &config.Load.Iterations)
	envDuration("CHATLOAD_HTTP_THINK_TIME", &config.Load.HTTPThinkTime)
	envDuration("CHATLOAD_WS_THINK_TIME", &config.Load.WSThinkTime)
	envDuration("CHATLOAD_WS_SESSION_TIMEOUT", &config.WebSocket.SessionTimeout)
	envDuration("CHATLOAD_WS_HANDSHAKE_TIMEOUT", &config.WebSocket.HandshakeTimeout)
	envDuration("CHATLOAD_WS_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)

	if v := os.Getenv("CHATLOAD_WS_ROOM_NAME"); v != "" {
		config.WebSocket.RoomName = v
	}

	if v := os.Getenv("CHATLOAD_WS_UNIQUE_USERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.WebSocket.UniqueUsers = b
		}
	}

	if v := os.Getenv("CHATLOAD_DATABASE_PATH"); v != "" {
		config.Database.Path = v
	}

	envDuration("CHATLOAD_DATABASE_TIMEOUT", &config.Database.Timeout)

	if v := os.Getenv("CHATLOAD_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}

	if v := os.Getenv("CHATLOAD_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}

	if v := os.Getenv("CHATLOAD_LOG_FORMAT"); v != "" {
		config.Log.Format = v
	}

	if v := os.Getenv("CHATLOAD_STUB_HOST"); v != "" {
		config.Stub.Host = v
	}

	envInt("CHATLOAD_STUB_PORT", &config.Stub.Port)

	if v := os.Getenv("CHATLOAD_STUB_JWT_SECRET"); v != "" {
		config.Stub.JWTSecret = v
	}

	envDuration("CHATLOAD_STUB_TOKEN_TTL", &config.Stub.TokenTTL)
	envInt("CHATLOAD_STUB_MESSAGES_PER_MINUTE", &config.Stub.MessagesPerMinute)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the YAML structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
type ConfigFile struct {
	Target    *TargetConfigFile    `yaml:"target"`
	Load      *LoadConfigFile      `yaml:"load"`
	WebSocket *WebSocketConfigFile `yaml:"websocket"`
	Database  *DatabaseConfigFile  `yaml:"database"`
	Metrics   *MetricsConfigFile   `yaml:"metrics"`
	Log       *LogConfigFile       `yaml:"log"`
	Stub      *StubConfigFile      `yaml:"stub"`
}

type TargetConfigFile struct {
	BaseURL        string `yaml:"base_url"`
	RequestTimeout string `yaml:"request_timeout"`
}

type LoadConfigFile struct {
	VirtualUsers  int    `yaml:"virtual_users"`
	Duration      string `yaml:"duration"`
	Iterations    int    `yaml:"iterations"`
	HTTPThinkTime string `yaml:"http_think_time"`
	WSThinkTime   string `yaml:"ws_think_time"`
}

type WebSocketConfigFile struct {
	SessionTimeout   string `yaml:"session_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	WriteTimeout     string `yaml:"write_timeout"`
	RoomName         string `yaml:"room_name"`
	UniqueUsers      *bool  `yaml:"unique_users"`
}

type DatabaseConfigFile struct {
	Path    string `yaml:"path"`
	Timeout string `yaml:"timeout"`
}

type MetricsConfigFile struct {
	Addr string `yaml:"addr"`
}

type LogConfigFile struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StubConfigFile struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	JWTSecret         string `yaml:"jwt_secret"`
	TokenTTL          string `yaml:"token_ttl"`
	MessagesPerMinute int    `yaml:"messages_per_minute"`
}

// LoadFromFile reads a YAML (or JSON) config file layered over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if f := configFile.Target; f != nil {
		if f.BaseURL != "" {
			config.Target.BaseURL = strings.TrimRight(f.BaseURL, "/")
		}
		if err := fileDuration("target.request_timeout", f.RequestTimeout, &config.Target.RequestTimeout); err != nil {
			return err
		}
	}

	if f := configFile.Load; f != nil {
		if f.VirtualUsers > 0 {
			config.Load.VirtualUsers = f.VirtualUsers
		}
		if f.Iterations > 0 {
			config.Load.Iterations = f.Iterations
		}
		if err := fileDuration("load.duration", f.Duration, &config.Load.Duration); err != nil {
			return err
		}
		if err := fileDuration("load.http_think_time", f.HTTPThinkTime, &config.Load.HTTPThinkTime); err != nil {
			return err
		}
		if err := fileDuration("load.ws_think_time", f.WSThinkTime, &config.Load.WSThinkTime); err != nil {
			return err
		}
	}

	if f := configFile.WebSocket; f != nil {
		if f.RoomName != "" {
			config.WebSocket.RoomName = f.RoomName
		}
		if f.UniqueUsers != nil {
			config.WebSocket.UniqueUsers = *f.UniqueUsers
		}
		if err := fileDuration("websocket.session_timeout", f.SessionTimeout, &config.WebSocket.SessionTimeout); err != nil {
			return err
		}
		if err := fileDuration("websocket.handshake_timeout", f.HandshakeTimeout, &config.WebSocket.HandshakeTimeout); err != nil {
			return err
		}
		if err := fileDuration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return err
		}
	}

	if f := configFile.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		if err := fileDuration("database.timeout", f.Timeout, &config.Database.Timeout); err != nil {
			return err
		}
	}

	if f := configFile.Metrics; f != nil && f.Addr != "" {
		config.Metrics.Addr = f.Addr
	}

	if f := configFile.Log; f != nil {
		if f.Level != "" {
			config.Log.Level = f.Level
		}
		if f.Format != "" {
			config.Log.Format = f.Format
		}
	}

	if f := configFile.Stub; f != nil {
		if f.Host != "" {
			config.Stub.Host = f.Host
		}
		if f.Port > 0 {
			config.Stub.Port = f.Port
		}
		if f.JWTSecret != "" {
			config.Stub.JWTSecret = f.JWTSecret
		}
		if f.MessagesPerMinute > 0 {
			config.Stub.MessagesPerMinute = f.MessagesPerMinute
		}
		if err := fileDuration("stub.token_ttl", f.TokenTTL, &config.Stub.TokenTTL); err != nil {
			return err
		}
	}

	return nil
}

// TECHNICAL DISCOVERY: A malformed duration in a file is a user error worth
// surfacing, unlike the environment where a bad value silently falls back
func fileDuration(field, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	*dst = d
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// CLI flags are applied on top by the caller
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()
	applyEnv(config)

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// ThinkTime returns the inter-iteration delay for a scenario kind
func (c *Config) ThinkTime(scenario string) time.Duration {
	if scenario == types.ScenarioRoom {
		return c.Load.WSThinkTime
	}
	return c.Load.HTTPThinkTime
}

// WebSocketBaseURL derives the ws(s):// origin from the HTTP base URL
func (c *Config) WebSocketBaseURL() string {
	u, err := url.Parse(c.Target.BaseURL)
	if err != nil {
		return c.Target.BaseURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return strings.TrimRight(u.String(), "/")
}
