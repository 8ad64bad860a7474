package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	SeenCacheNone   = "none"
	SeenCacheRedis  = "redis"
	SeenCacheSQLite = "sqlite"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"NW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NW_DB_MAX_CONNS" default:"8"`

	APAPIKey         string        `envconfig:"AP_API_KEY" default:""`
	APBaseURL        string        `envconfig:"AP_BASE_URL" default:"https://api.ap.org/media/v"`
	APRetryLimit     int           `envconfig:"AP_RETRY_LIMIT" default:"5"`
	APRequestTimeout time.Duration `envconfig:"AP_REQUEST_TIMEOUT" default:"30s"`
	APMediumName     string        `envconfig:"AP_MEDIUM_NAME" default:"The Associated Press"`
	APMinLookback    time.Duration `envconfig:"AP_MIN_LOOKBACK" default:"12h"`
	APMaxLookback    time.Duration `envconfig:"AP_MAX_LOOKBACK" default:"36h"`

	UserAgent string `envconfig:"USER_AGENT" default:"newswire/1.0"`

	SeenCache      string        `envconfig:"SEEN_CACHE" default:"none"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	SeenTTL        time.Duration `envconfig:"SEEN_TTL" default:"72h"`
	SeenSQLitePath string        `envconfig:"SEEN_SQLITE_PATH" default:"newswire-seen.db"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"newswire.stories"`

	ArchiveS3Region    string `envconfig:"ARCHIVE_S3_REGION" default:""`
	ArchiveS3Profile   string `envconfig:"ARCHIVE_S3_PROFILE" default:""`
	ArchiveS3PathStyle bool   `envconfig:"ARCHIVE_S3_PATH_STYLE" default:"false"`
	ArchiveS3Endpoint  string `envconfig:"ARCHIVE_S3_ENDPOINT" default:""`

	ScheduleAPCron        string `envconfig:"SCHEDULE_AP_CRON" default:"*/30 * * * *"`
	ScheduleFeedsCron     string `envconfig:"SCHEDULE_FEEDS_CRON" default:"*/15 * * * *"`
	ScheduleDownloadsCron string `envconfig:"SCHEDULE_DOWNLOADS_CRON" default:"*/5 * * * *"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NW_DB_MIN_CONNS (%d) cannot exceed NW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.APBaseURL) == "" {
		return fmt.Errorf("AP_BASE_URL is required")
	}
	if c.APRetryLimit < 1 {
		return fmt.Errorf("AP_RETRY_LIMIT must be >= 1")
	}
	if c.APRequestTimeout <= 0 {
		return fmt.Errorf("AP_REQUEST_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(c.APMediumName) == "" {
		return fmt.Errorf("AP_MEDIUM_NAME is required")
	}
	if c.APMinLookback < 0 || c.APMaxLookback < 0 {
		return fmt.Errorf("AP_MIN_LOOKBACK and AP_MAX_LOOKBACK must be >= 0")
	}
	if c.APMinLookback > 0 && c.APMaxLookback > 0 && c.APMaxLookback < c.APMinLookback {
		return fmt.Errorf("AP_MAX_LOOKBACK (%s) cannot be less than AP_MIN_LOOKBACK (%s)", c.APMaxLookback, c.APMinLookback)
	}

	switch c.SeenCacheBackend() {
	case SeenCacheNone:
	case SeenCacheRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when SEEN_CACHE=redis")
		}
	case SeenCacheSQLite:
		if strings.TrimSpace(c.SeenSQLitePath) == "" {
			return fmt.Errorf("SEEN_SQLITE_PATH is required when SEEN_CACHE=sqlite")
		}
	default:
		return fmt.Errorf("SEEN_CACHE must be one of none, redis, sqlite (got %q)", c.SeenCache)
	}
	if c.SeenTTL <= 0 {
		return fmt.Errorf("SEEN_TTL must be > 0")
	}

	if len(c.KafkaBrokerList()) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// SeenCacheBackend returns the normalized SEEN_CACHE value.
func (c *Config) SeenCacheBackend() string {
	backend := strings.ToLower(strings.TrimSpace(c.SeenCache))
	if backend == "" {
		return SeenCacheNone
	}
	return backend
}

// KafkaBrokerList splits KAFKA_BROKERS into a de-duplicated broker list.
func (c *Config) KafkaBrokerList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		broker := strings.TrimSpace(part)
		if broker == "" {
			continue
		}
		if _, exists := seen[broker]; exists {
			continue
		}
		seen[broker] = struct{}{}
		brokers = append(brokers, broker)
	}
	return brokers
}

// Lookbacks returns the configured lookback bounds; a zero duration means the bound is disabled.
func (c *Config) Lookbacks() (minLookback, maxLookback *time.Duration) {
	if c.APMinLookback > 0 {
		v := c.APMinLookback
		minLookback = &v
	}
	if c.APMaxLookback > 0 {
		v := c.APMaxLookback
		maxLookback = &v
	}
	return minLookback, maxLookback
}
