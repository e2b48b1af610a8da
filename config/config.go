package config

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Queue       QueueConfig       `yaml:"queue"`
	Search      SearchConfig      `yaml:"search"`
	Geo         GeoConfig         `yaml:"geo"`
	Auth        AuthConfig        `yaml:"auth"`
	Booking     BookingConfig     `yaml:"booking"`
	CatalogSync CatalogSyncConfig `yaml:"catalog_sync"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size       int `yaml:"size"`
	BufferSize int `yaml:"buffer_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	Mode            string  `yaml:"mode"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnablePostGIS          bool   `yaml:"enable_postgis"`
}

// RedisConfig holds the queue store connection configuration.
type RedisConfig struct {
	URL          string `yaml:"url"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
	MaxRetries   int    `yaml:"max_retries"`
}

// QueueConfig controls queue keys, wait estimates and stale entry cleanup.
type QueueConfig struct {
	KeyPrefix              string        `yaml:"key_prefix"`
	AverageServiceMinutes  int           `yaml:"average_service_minutes"`
	RetentionHours         int           `yaml:"retention_hours"`
	Retention              time.Duration `yaml:"-"`
	CleanupIntervalMinutes int           `yaml:"cleanup_interval_minutes"`
	CleanupInterval        time.Duration `yaml:"-"`
}

// SearchConfig controls the nearby search.
type SearchConfig struct {
	DefaultRadiusMeters float64 `yaml:"default_radius_meters"`
	LiveConcurrency     int     `yaml:"live_concurrency"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
}

// GeoConfig selects the geospatial index backend: "postgis" or "memory".
type GeoConfig struct {
	Backend string `yaml:"backend"`
}

// AuthConfig holds the bearer token verification settings.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
}

// BookingConfig describes the daily appointment grid. Times are "HH:MM" in
// Timezone.
type BookingConfig struct {
	OpenTime     string `yaml:"open_time"`
	CloseTime    string `yaml:"close_time"`
	SlotMinutes  int    `yaml:"slot_minutes"`
	Timezone     string `yaml:"timezone"`
	MaxDaysAhead int    `yaml:"max_days_ahead"`
}

// CatalogSyncConfig holds the upstream provider feed configuration.
type CatalogSyncConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	HTTPProxy       string        `yaml:"http_proxy"`
	Request         SyncRequest   `yaml:"request"`
}

// SyncRequest defines the HTTP request for the catalog sync.
type SyncRequest struct {
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers"`
	PageSize int               `yaml:"pageSize"`
	Payload  map[string]any    `yaml:"payload"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in every unset field.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Redis.PoolSize <= 0 {
		cfg.Redis.PoolSize = 100
	}
	if cfg.Redis.MaxRetries <= 0 {
		cfg.Redis.MaxRetries = 3
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.BufferSize <= 0 {
		cfg.WorkerPool.BufferSize = 256
	}

	if cfg.Queue.KeyPrefix == "" {
		cfg.Queue.KeyPrefix = "shopqueue:"
	}
	if cfg.Queue.AverageServiceMinutes <= 0 {
		cfg.Queue.AverageServiceMinutes = 15
	}
	if cfg.Queue.RetentionHours <= 0 {
		cfg.Queue.RetentionHours = 24
	}
	cfg.Queue.Retention = time.Duration(cfg.Queue.RetentionHours) * time.Hour
	if cfg.Queue.CleanupIntervalMinutes <= 0 {
		cfg.Queue.CleanupIntervalMinutes = 60
	}
	cfg.Queue.CleanupInterval = time.Duration(cfg.Queue.CleanupIntervalMinutes) * time.Minute

	if cfg.Search.DefaultRadiusMeters <= 0 {
		cfg.Search.DefaultRadiusMeters = 5000
	}
	if cfg.Search.LiveConcurrency <= 0 {
		cfg.Search.LiveConcurrency = 8
	}
	if cfg.Search.TimeoutSeconds <= 0 {
		cfg.Search.TimeoutSeconds = 5
	}

	if cfg.Geo.Backend == "" {
		cfg.Geo.Backend = "postgis"
	}

	if cfg.Booking.OpenTime == "" {
		cfg.Booking.OpenTime = "09:00"
	}
	if cfg.Booking.CloseTime == "" {
		cfg.Booking.CloseTime = "17:00"
	}
	if cfg.Booking.SlotMinutes <= 0 {
		cfg.Booking.SlotMinutes = 30
	}
	if cfg.Booking.Timezone == "" {
		cfg.Booking.Timezone = "UTC"
	}
	if cfg.Booking.MaxDaysAhead <= 0 {
		cfg.Booking.MaxDaysAhead = 60
	}

	if cfg.CatalogSync.IntervalSeconds <= 0 {
		cfg.CatalogSync.IntervalSeconds = 3600
	}
	cfg.CatalogSync.Interval = time.Duration(cfg.CatalogSync.IntervalSeconds) * time.Second
	if cfg.CatalogSync.Request.PageSize <= 0 {
		cfg.CatalogSync.Request.PageSize = 100
	}
}
