package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable
const EnvPrefix = "DIVE"

// DefaultConfigFile is read when DIVE_CONFIG_FILE is unset
const DefaultConfigFile = "dive.yaml"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Remote    RemoteConfig    `yaml:"remote" envconfig:"REMOTE"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" envconfig:"LIFECYCLE"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// RemoteConfig configures the remote query service client
type RemoteConfig struct {
	BaseURL          string        `yaml:"base_url" envconfig:"BASE_URL"`
	Timeout          time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	PollInterval     time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	ComposedInterval time.Duration `yaml:"composed_interval" envconfig:"COMPOSED_INTERVAL"`
	RateLimit        float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Burst            int           `yaml:"burst" envconfig:"BURST"`
	UserAgent        string        `yaml:"user_agent" envconfig:"USER_AGENT"`
}

// CacheConfig bounds the fingerprint and result caches
type CacheConfig struct {
	// MaxEntries bounds each cache with LRU eviction, 0 is unbounded
	MaxEntries int  `yaml:"max_entries" envconfig:"MAX_ENTRIES"`
	Dedupe     bool `yaml:"dedupe" envconfig:"DEDUPE"`
}

// LifecycleConfig configures request cancellation
type LifecycleConfig struct {
	CancelOn      string        `yaml:"cancel_on" envconfig:"CANCEL_ON"`
	NotifyTimeout time.Duration `yaml:"notify_timeout" envconfig:"NOTIFY_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
}

// TelemetryConfig configures metrics and tracing
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	EnableMetrics bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	WebDir     string `yaml:"web_dir" envconfig:"WEB_DIR"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
	ExportsDir string `yaml:"exports_dir" envconfig:"EXPORTS_DIR"`
}

// Load builds the configuration from the defaults, the optional YAML file and
// the environment, in increasing order of precedence
func Load() (*Config, error) {
	return LoadFile(configFilePath())
}

// LoadFile is Load with an explicit config file. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFromFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	// fields without an environment variable keep their file or default value
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file on cfg
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// configFilePath returns the file named by DIVE_CONFIG_FILE or the default
func configFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}
	return DefaultConfigFile
}

// Validate checks the configuration and normalizes enumerations
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid remote base url: %q", c.Remote.BaseURL)
	}
	if c.Remote.PollInterval <= 0 || c.Remote.ComposedInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Remote.RateLimit < 0 {
		return fmt.Errorf("remote rate limit must not be negative")
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max entries must not be negative")
	}

	switch strings.ToLower(c.Lifecycle.CancelOn) {
	case "navigation_start", "start":
		c.Lifecycle.CancelOn = "navigation_start"
	case "navigation_end", "end", "":
		c.Lifecycle.CancelOn = "navigation_end"
	default:
		return fmt.Errorf("invalid lifecycle cancel_on: %q", c.Lifecycle.CancelOn)
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		c.Logging.Format = "json"
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "dive.log"
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  5 * time.Minute,
		},
		Remote: RemoteConfig{
			BaseURL:          "http://deepblue.mpi-inf.mpg.de/api",
			Timeout:          30 * time.Second,
			PollInterval:     250 * time.Millisecond,
			ComposedInterval: time.Second,
			Burst:            1,
			UserAgent:        "divecli/1.0",
		},
		Lifecycle: LifecycleConfig{
			CancelOn:      "navigation_end",
			NotifyTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "dive.log",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "dive",
			EnableMetrics: true,
		},
		Paths: PathsConfig{
			WebDir:     "web",
			LogsDir:    "logs",
			ExportsDir: "exports",
		},
	}
}
