package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// Config represents the application configuration
type Config struct {
	// Database configuration
	DBDriver string
	DBDSN    string

	// Redis configuration
	RedisAddr                 string
	RedisDB                   int
	RedisSnapshotStream       string
	RedisConsumerGroup        string
	RedisConsumerName         string
	RedisEventStream          string
	RedisEventStreamMaxLength int
	RedisReadCount            int
	RedisReadBlock            time.Duration

	// Memcache configuration, empty address disables the item cache
	MemcacheAddr string
	ItemCacheTTL time.Duration

	// File receiving price change entries
	ChangeLogFile string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	maxLength, _ := strconv.Atoi(getEnv("REDIS_EVENT_STREAM_MAX_LENGTH", "10000"))
	readCount, _ := strconv.Atoi(getEnv("REDIS_READ_COUNT", "50"))
	readBlock, _ := strconv.Atoi(getEnv("REDIS_READ_BLOCK_SECONDS", "5"))
	cacheTTL, _ := strconv.Atoi(getEnv("ITEM_CACHE_TTL_SECONDS", "3600"))

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "pricetracker"
	}

	return &Config{
		DBDriver:                  getEnv("DB_DRIVER", DriverSQLite),
		DBDSN:                     getEnv("DB_DSN", "./pricetracker.db"),
		RedisAddr:                 getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:                   redisDB,
		RedisSnapshotStream:       getEnv("REDIS_SNAPSHOT_STREAM", "snapshots"),
		RedisConsumerGroup:        getEnv("REDIS_CONSUMER_GROUP", "pricetracker"),
		RedisConsumerName:         getEnv("REDIS_CONSUMER_NAME", hostname),
		RedisEventStream:          getEnv("REDIS_EVENT_STREAM", "price_events"),
		RedisEventStreamMaxLength: maxLength,
		RedisReadCount:            readCount,
		RedisReadBlock:            time.Duration(readBlock) * time.Second,
		MemcacheAddr:              os.Getenv("MEMCACHE_ADDR"),
		ItemCacheTTL:              time.Duration(cacheTTL) * time.Second,
		ChangeLogFile:             getEnv("CHANGE_LOG_FILE", "./price_changes.log"),
		Environment:               getEnv("PRICETRACKER_ENVIRONMENT", "development"),
	}
}

// Validate checks that the configuration can be used to start the service
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres, DriverPgx:
	default:
		return trackererrors.NewConfiguration(fmt.Sprintf("unsupported DB_DRIVER %q", c.DBDriver), nil)
	}
	if c.DBDSN == "" {
		return trackererrors.NewConfiguration("DB_DSN is empty", nil)
	}
	if c.RedisAddr == "" {
		return trackererrors.NewConfiguration("REDIS_ADDR is empty", nil)
	}
	if c.RedisSnapshotStream == "" || c.RedisEventStream == "" {
		return trackererrors.NewConfiguration("redis stream names must not be empty", nil)
	}
	if c.RedisSnapshotStream == c.RedisEventStream {
		return trackererrors.NewConfiguration("snapshot and event streams must differ", nil)
	}
	if c.RedisConsumerGroup == "" || c.RedisConsumerName == "" {
		return trackererrors.NewConfiguration("redis consumer group and name are required", nil)
	}
	if c.RedisReadCount <= 0 {
		return trackererrors.NewConfiguration("REDIS_READ_COUNT must be positive", nil)
	}
	if c.RedisReadBlock <= 0 {
		return trackererrors.NewConfiguration("REDIS_READ_BLOCK_SECONDS must be positive", nil)
	}
	if c.RedisEventStreamMaxLength <= 0 {
		return trackererrors.NewConfiguration("REDIS_EVENT_STREAM_MAX_LENGTH must be positive", nil)
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
