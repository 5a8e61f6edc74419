package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	config := LoadConfig()
	assert.Equal(t, DriverSQLite, config.DBDriver)
	assert.Equal(t, "./pricetracker.db", config.DBDSN)
	assert.Equal(t, "localhost:6379", config.RedisAddr)
	assert.Equal(t, 0, config.RedisDB)
	assert.Equal(t, "snapshots", config.RedisSnapshotStream)
	assert.Equal(t, "price_events", config.RedisEventStream)
	assert.Equal(t, 50, config.RedisReadCount)
	assert.Equal(t, 5*time.Second, config.RedisReadBlock)
	assert.Equal(t, "", config.MemcacheAddr)
	assert.Equal(t, time.Hour, config.ItemCacheTTL)
	assert.NoError(t, config.Validate())

	// Test with environment variables
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DB_DSN", "postgres://tracker@localhost/prices")
	t.Setenv("REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("REDIS_DB", "1")
	t.Setenv("MEMCACHE_ADDR", "memcache.example.com:11211")
	t.Setenv("ITEM_CACHE_TTL_SECONDS", "30")
	t.Setenv("PRICETRACKER_ENVIRONMENT", "production")

	config = LoadConfig()
	assert.Equal(t, DriverPgx, config.DBDriver)
	assert.Equal(t, "postgres://tracker@localhost/prices", config.DBDSN)
	assert.Equal(t, "redis.example.com:6379", config.RedisAddr)
	assert.Equal(t, 1, config.RedisDB)
	assert.Equal(t, "memcache.example.com:11211", config.MemcacheAddr)
	assert.Equal(t, 30*time.Second, config.ItemCacheTTL)
	assert.True(t, config.IsProduction())
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	config := LoadConfig()
	config.DBDriver = "mysql"
	assert.Error(t, config.Validate())

	config = LoadConfig()
	config.RedisEventStream = config.RedisSnapshotStream
	assert.Error(t, config.Validate())

	config = LoadConfig()
	config.RedisReadCount = 0
	assert.Error(t, config.Validate())

	config = LoadConfig()
	config.DBDSN = ""
	assert.Error(t, config.Validate())
}
