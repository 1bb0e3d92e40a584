package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Outbox   OutboxConfig
	Fetcher  FetcherConfig
	Browser  BrowserConfig
	Jobs     JobsConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

type StoreConfig struct {
	// Driver is "postgres" or "memory". The memory store loses everything on
	// exit and is meant for dry runs.
	Driver string
	// SeedFile is a brand YAML file; empty means the built-in brands.
	SeedFile string
	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type OutboxConfig struct {
	Stream       string
	PollInterval time.Duration
	BatchSize    int
}

type FetcherConfig struct {
	UserAgent string
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

type BrowserConfig struct {
	Enabled           bool
	Headless          bool
	Timeout           time.Duration
	ViewportWidth     int
	ViewportHeight    int
	TimezoneID        string
	Locale            string
	Proxy             string
	NavigationRetries int
	MaxColors         int
	SettleDelay       time.Duration
}

type JobsConfig struct {
	WorkerEnabled bool
	PollInterval  time.Duration
	MaxProducts   int
}

type ScheduleConfig struct {
	// Refresh is a cron spec with a seconds field, e.g. "0 0 3 * * *".
	// Empty disables scheduled refreshes.
	Refresh string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Store: StoreConfig{
			Driver:      getEnvOrDefault("STORE_DRIVER", StoreDriverPostgres),
			SeedFile:    getEnvOrDefault("BRANDS_FILE", ""),
			AutoMigrate: getBoolOrDefault("DB_AUTO_MIGRATE", true),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "catalog"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", true),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Outbox: OutboxConfig{
			Stream:       getEnvOrDefault("OUTBOX_STREAM", "stream:catalog"),
			PollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
		},
		Fetcher: FetcherConfig{
			UserAgent: getEnvOrDefault("FETCHER_USER_AGENT", defaultUserAgent),
			BaseDelay: getDurationOrDefault("FETCHER_BASE_DELAY", time.Second),
			MaxDelay:  getDurationOrDefault("FETCHER_MAX_DELAY", 30*time.Second),
		},
		Browser: BrowserConfig{
			Enabled:           getBoolOrDefault("BROWSER_ENABLED", true),
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:           getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:     getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:    getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Berlin"),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "de-DE"),
			Proxy:             getEnvOrDefault("BROWSER_PROXY", ""),
			NavigationRetries: getIntOrDefault("BROWSER_NAVIGATION_RETRIES", 3),
			MaxColors:         getIntOrDefault("BROWSER_MAX_COLORS", 4),
			SettleDelay:       getDurationOrDefault("BROWSER_SETTLE_DELAY", 1500*time.Millisecond),
		},
		Jobs: JobsConfig{
			WorkerEnabled: getBoolOrDefault("JOB_WORKER_ENABLED", true),
			PollInterval:  getDurationOrDefault("JOB_POLL_INTERVAL", 5*time.Second),
			MaxProducts:   getIntOrDefault("JOB_MAX_PRODUCTS", 20),
		},
		Schedule: ScheduleConfig{
			Refresh: getEnvOrDefault("REFRESH_SCHEDULE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" && (c.Database.Host == "" || c.Database.DBName == "") {
			return fmt.Errorf("DATABASE_URL or DB_HOST and DB_NAME are required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Store.Driver)
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("JOB_POLL_INTERVAL must be positive")
	}

	if c.Jobs.MaxProducts < 1 {
		return fmt.Errorf("JOB_MAX_PRODUCTS must be at least 1")
	}

	if c.Browser.MaxColors < 1 {
		return fmt.Errorf("BROWSER_MAX_COLORS must be at least 1")
	}

	if c.Fetcher.BaseDelay > c.Fetcher.MaxDelay {
		return fmt.Errorf("FETCHER_BASE_DELAY cannot be greater than FETCHER_MAX_DELAY")
	}

	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1")
	}

	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
