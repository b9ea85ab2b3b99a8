package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration as read from YAML.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`

		// ForwardAuthorization passes the caller's Authorization header on
		// to the rendered page when the body carries no auth_token.
		ForwardAuthorization bool `yaml:"forward_authorization"`
	} `yaml:"server"`

	Limits struct {
		MaxPDFBytes int `yaml:"max_pdf_bytes"`
		MaxURLBytes int `yaml:"max_url_bytes"`
	} `yaml:"limits"`

	Logger LoggerConfig `yaml:"logger"`

	Cache struct {
		PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
		RedisHost       string        `yaml:"redis_host"`
		RateLimitDB     int           `yaml:"redis_rate_db"`
		PDFCacheDB      int           `yaml:"redis_pdf_db"`
	} `yaml:"cache"`

	Auth struct {
		Enabled        bool           `yaml:"enabled"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
		Postgres       PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
	} `yaml:"rate_limiter"`

	Render RenderConfig `yaml:"render"`

	Storage StorageConfig `yaml:"storage"`
}

// LoggerConfig controls the rotating JSON log file.
type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// PostgresConfig locates the API token table.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RenderConfig is everything the renderer needs to start and drive a browser.
type RenderConfig struct {
	// ChromePath is the browser executable. Empty means chromedp's lookup.
	ChromePath string `yaml:"chrome_path"`
	// RemoteURL points at an already running browser's devtools websocket.
	// When set, no local process is started.
	RemoteURL     string        `yaml:"remote_url"`
	NoSandbox     bool          `yaml:"no_sandbox"`
	WindowWidth   int           `yaml:"window_width"`
	WindowHeight  int           `yaml:"window_height"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
	UserDataDir   string        `yaml:"user_data_dir"`
}

// StorageConfig selects where archived PDFs go.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "local" or "s3"
	Dir     string `yaml:"dir"`
	S3      struct {
		Endpoint        string `yaml:"endpoint"`
		Region          string `yaml:"region"`
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		UsePathStyle    bool   `yaml:"use_path_style"`
	} `yaml:"s3"`
}

const (
	DefaultWaitTimeout   = 100 * time.Second
	DefaultRenderTimeout = 3 * time.Minute
	DefaultWindowWidth   = 1920
	DefaultWindowHeight  = 1080
)

// Defaults returns a config with every optional value filled in.
func Defaults() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8080"
	cfg.Limits.MaxPDFBytes = 50 * 1024 * 1024
	cfg.Limits.MaxURLBytes = 8 * 1024
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	cfg.Cache.PDFCacheTTL = time.Minute
	cfg.Auth.ReloadInterval = time.Minute
	cfg.RateLimiter.Interval = time.Minute
	cfg.Render = DefaultRenderConfig()
	cfg.Storage.Backend = "local"
	cfg.Storage.Dir = "."
	return cfg
}

// DefaultRenderConfig matches the fixed browser setup: 1920x1080 viewport,
// sandbox off and a 100 second selector wait.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		NoSandbox:     true,
		WindowWidth:   DefaultWindowWidth,
		WindowHeight:  DefaultWindowHeight,
		WaitTimeout:   DefaultWaitTimeout,
		RenderTimeout: DefaultRenderTimeout,
	}
}

// Load reads the file named by CONFIG_PATH (config.yaml if unset). A .env
// file in the working directory is loaded first when present.
func Load() Config {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates a config file. It panics on unreadable files
// and invalid values; a service with a broken config must not start.
func LoadFrom(path string) Config {
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}

	if v := os.Getenv("CHROME_BIN"); v != "" && cfg.Render.ChromePath == "" {
		cfg.Render.ChromePath = v
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	if c.Render.WaitTimeout <= 0 {
		return fmt.Errorf("render.wait_timeout must be positive")
	}
	if c.Render.RenderTimeout <= 0 {
		return fmt.Errorf("render.render_timeout must be positive")
	}
	if c.Render.WindowWidth <= 0 || c.Render.WindowHeight <= 0 {
		return fmt.Errorf("render.window_width and render.window_height must be positive")
	}
	if c.Limits.MaxPDFBytes <= 0 {
		return fmt.Errorf("limits.max_pdf_bytes must be positive")
	}
	if c.RateLimiter.Interval <= 0 {
		return fmt.Errorf("rate_limiter.interval must be positive")
	}
	if c.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if c.Auth.Enabled && c.Auth.ReloadInterval <= 0 {
		return fmt.Errorf("auth.reload_interval must be positive")
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, s3", c.Storage.Backend)
	}
	return nil
}
