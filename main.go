package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sjsage522/pricetracker/config"
	"sjsage522/pricetracker/helpers"
	"sjsage522/pricetracker/logger"
	"sjsage522/pricetracker/services/cache"
	"sjsage522/pricetracker/services/publisher"
	"sjsage522/pricetracker/services/source"
	"sjsage522/pricetracker/services/store"
	"sjsage522/pricetracker/services/worker"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("db_driver", cfg.DBDriver).
		Str("snapshot_stream", cfg.RedisSnapshotStream).
		Str("event_stream", cfg.RedisEventStream).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	w := worker.NewWorker(
		ctx,
		services.Source,
		services.Store,
		services.Publisher,
		helpers.NewChangeLog(cfg.ChangeLogFile),
	)

	// Start worker in a goroutine
	workerDone := make(chan error, 1)
	go func() {
		log.Info().Msg("Starting price tracker worker")
		workerDone <- w.Start()
	}()

	// Wait for shutdown signal or worker error
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-workerDone
	case err := <-workerDone:
		if err != nil {
			log.Error().Err(err).Msg("Worker exited with error")
		} else {
			log.Info().Msg("Worker exited normally")
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
}

// Services holds all the initialized services
type Services struct {
	Store     *store.Store
	Source    *source.RedisSource
	Publisher publisher.Publisher
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Source != nil {
		s.Source.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}

	// Initialize relational store
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	services.Store = st
	if err := st.Ensure(ctx); err != nil {
		services.Cleanup()
		return nil, err
	}
	logger.Info("Connected to %s database", cfg.DBDriver)

	// Initialize item cache
	if cfg.MemcacheAddr != "" {
		cacheService := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := cacheService.Ping(); err != nil {
			logger.Warn("Memcache at %s unavailable, item cache disabled: %v", cfg.MemcacheAddr, err)
		} else {
			st.WithItemCache(cacheService, cfg.ItemCacheTTL)
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	// Initialize snapshot source
	sourceClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := sourceClient.Ping(ctx).Err(); err != nil {
		sourceClient.Close()
		services.Cleanup()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	src := source.NewRedisSource(
		sourceClient,
		cfg.RedisSnapshotStream,
		cfg.RedisConsumerGroup,
		cfg.RedisConsumerName,
		cfg.RedisReadCount,
		cfg.RedisReadBlock,
	)
	services.Source = src
	if err := src.EnsureGroup(ctx); err != nil {
		services.Cleanup()
		return nil, err
	}

	// Initialize publisher on its own connection; the source blocks on reads
	publisherClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	services.Publisher = publisher.NewRedisPublisher(
		ctx,
		publisherClient,
		cfg.RedisEventStream,
		cfg.RedisEventStreamMaxLength,
	)

	logger.Info("Connected to Redis at %s (DB: %d, Snapshots: %s, Events: %s)",
		cfg.RedisAddr, cfg.RedisDB, cfg.RedisSnapshotStream, cfg.RedisEventStream)

	return services, nil
}
