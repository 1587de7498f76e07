package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment    string               `toml:"environment"` // "development" or "production"
	Server         ServerConfig         `toml:"server"`
	Queue          QueueConfig          `toml:"queue"`
	Crawler        CrawlerConfig        `toml:"crawler"`
	Security       SecurityConfig       `toml:"security"`
	Email          EmailConfig          `toml:"email"`
	Retention      RetentionConfig      `toml:"retention"`
	WebPConversion WebPConversionConfig `toml:"webp_conversion"`
	Storage        StorageConfig        `toml:"storage"`
	Logging        LoggingConfig        `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// QueueConfig controls admission and fair-share queueing
type QueueConfig struct {
	MaxSize                      int `toml:"max_size"`                         // Maximum number of queued scans across all submitters
	MaxPerIP                     int `toml:"max_per_ip"`                       // Maximum queued scans per submitter IP
	CooldownSeconds              int `toml:"cooldown_seconds"`                 // Minimum seconds between submissions from one IP
	DefaultEstimatedPagesPerSite int `toml:"default_estimated_pages_per_site"` // Pages assumed for a not-yet-started scan in wait estimation
}

// CrawlerConfig controls crawl execution
type CrawlerConfig struct {
	MaxPagesPerScan         int    `toml:"max_pages_per_scan"`         // Hard page budget per scan
	MaxScanDurationSeconds  int    `toml:"max_scan_duration_seconds"`  // Wall-clock budget per scan
	MaxConcurrentScans      int    `toml:"max_concurrent_scans"`       // Worker pool size (typically 2-4)
	PerRequestDelayMs       int    `toml:"per_request_delay_ms"`       // Politeness delay between fetches to one host
	PageFetchTimeoutSeconds int    `toml:"page_fetch_timeout_seconds"` // Per-page fetch timeout
	UserAgent               string `toml:"user_agent"`
	EnableJavaScript        bool   `toml:"enable_javascript"`   // Render pages with a headless browser
	JavaScriptWaitMs        int    `toml:"javascript_wait_ms"`  // Settle time after navigation when rendering
	CheckpointEveryPages    int    `toml:"checkpoint_every_pages"`
}

// SecurityConfig controls client identification and rate limiting
type SecurityConfig struct {
	ForwardedHeadersEnabled  bool     `toml:"forwarded_headers_enabled"` // Honour X-Forwarded-For behind trusted proxies
	TrustedProxies           []string `toml:"trusted_proxies"`           // CIDR list of trusted proxy hops
	RateLimitExemptIPs       []string `toml:"rate_limit_exempt_ips"`
	MaxRequestsPerMinute     int      `toml:"max_requests_per_minute"`
	EnforceHTTPS             bool     `toml:"enforce_https"`
	MaxRequestBodySizeBytes  int64    `toml:"max_request_body_size_bytes"`
	SentryDSN                string   `toml:"sentry_dsn"`
}

type EmailConfig struct {
	Enabled     bool   `toml:"enabled"`
	APIKey      string `toml:"api_key"` // Overridden by SENDGRID_API_KEY
	FromAddress string `toml:"from_address"`
}

type RetentionConfig struct {
	ScanTTLDays           int `toml:"scan_ttl_days"`
	IntervalMinutes       int `toml:"interval_minutes"`
	ZipTTLHours           int `toml:"zip_ttl_hours"`
	StatsBroadcastSeconds int `toml:"stats_broadcast_seconds"` // Interval for pushing aggregate stats to subscribers
}

type WebPConversionConfig struct {
	Enabled        bool `toml:"enabled"`
	Quality        int  `toml:"quality"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Zips string `toml:"zips"` // Root directory for converted-image zip artifacts
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should be exposed in webpscan.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			MaxSize:                      50,
			MaxPerIP:                     3,
			CooldownSeconds:              10,
			DefaultEstimatedPagesPerSite: 25,
		},
		Crawler: CrawlerConfig{
			MaxPagesPerScan:         100,
			MaxScanDurationSeconds:  600,
			MaxConcurrentScans:      2,
			PerRequestDelayMs:       500,
			PageFetchTimeoutSeconds: 30,
			UserAgent:               "WebPScanBot/1.0 (+https://webpscan.dev/bot)",
			EnableJavaScript:        false,
			JavaScriptWaitMs:        3000,
			CheckpointEveryPages:    5,
		},
		Security: SecurityConfig{
			ForwardedHeadersEnabled: false,
			TrustedProxies:          []string{"127.0.0.1/32", "10.0.0.0/8"},
			RateLimitExemptIPs:      []string{},
			MaxRequestsPerMinute:    20,
			EnforceHTTPS:            false,
			MaxRequestBodySizeBytes: 64 * 1024,
		},
		Email: EmailConfig{
			Enabled:     false,
			FromAddress: "reports@webpscan.dev",
		},
		Retention: RetentionConfig{
			ScanTTLDays:           7,
			IntervalMinutes:       60,
			ZipTTLHours:           6,
			StatsBroadcastSeconds: 30,
		},
		WebPConversion: WebPConversionConfig{
			Enabled:        false,
			Quality:        80,
			TimeoutSeconds: 120,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Filesystem: FilesystemConfig{
				Zips: "./data/zips",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files; later files
// override earlier files, and environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("WEBPSCAN_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("WEBPSCAN_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("WEBPSCAN_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("WEBPSCAN_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if zipsDir := os.Getenv("WEBPSCAN_ZIPS_DIR"); zipsDir != "" {
		config.Storage.Filesystem.Zips = zipsDir
	}

	if level := os.Getenv("WEBPSCAN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("WEBPSCAN_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Delivery and diagnostics keys come from the environment in production
	if apiKey := os.Getenv("SENDGRID_API_KEY"); apiKey != "" {
		config.Email.APIKey = apiKey
	}
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		config.Security.SentryDSN = dsn
	}
}

// ApplyFlagOverrides applies CLI flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks configuration values that would break the pipeline at runtime
func (c *Config) Validate() error {
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue.max_size must be positive, got %d", c.Queue.MaxSize)
	}
	if c.Queue.MaxPerIP <= 0 {
		return fmt.Errorf("queue.max_per_ip must be positive, got %d", c.Queue.MaxPerIP)
	}
	if c.Crawler.MaxConcurrentScans <= 0 {
		return fmt.Errorf("crawler.max_concurrent_scans must be positive, got %d", c.Crawler.MaxConcurrentScans)
	}
	if c.Crawler.MaxPagesPerScan <= 0 {
		return fmt.Errorf("crawler.max_pages_per_scan must be positive, got %d", c.Crawler.MaxPagesPerScan)
	}
	if c.Crawler.CheckpointEveryPages <= 0 {
		c.Crawler.CheckpointEveryPages = 5
	}
	if c.Security.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("security.max_requests_per_minute must be positive, got %d", c.Security.MaxRequestsPerMinute)
	}
	for _, cidr := range c.Security.TrustedProxies {
		if !strings.Contains(cidr, "/") {
			return fmt.Errorf("security.trusted_proxies entry %q is not CIDR notation", cidr)
		}
	}
	return nil
}

// PerRequestDelay returns the politeness delay as a duration
func (c *CrawlerConfig) PerRequestDelay() time.Duration {
	return time.Duration(c.PerRequestDelayMs) * time.Millisecond
}

// PageFetchTimeout returns the per-page fetch timeout as a duration
func (c *CrawlerConfig) PageFetchTimeout() time.Duration {
	return time.Duration(c.PageFetchTimeoutSeconds) * time.Second
}

// MaxScanDuration returns the scan wall-clock budget as a duration
func (c *CrawlerConfig) MaxScanDuration() time.Duration {
	return time.Duration(c.MaxScanDurationSeconds) * time.Second
}

// JavaScriptWait returns the post-navigation settle time as a duration
func (c *CrawlerConfig) JavaScriptWait() time.Duration {
	return time.Duration(c.JavaScriptWaitMs) * time.Millisecond
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
