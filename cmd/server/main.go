package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollpulse/internal/broadcast"
	"github.com/pscheid92/pollpulse/internal/database"
	"github.com/pscheid92/pollpulse/internal/metrics"
	"github.com/pscheid92/pollpulse/internal/platform/config"
	"github.com/pscheid92/pollpulse/internal/platform/logging"
	"github.com/pscheid92/pollpulse/internal/platform/version"
	"github.com/pscheid92/pollpulse/internal/polls"
	"github.com/pscheid92/pollpulse/internal/redis"
	"github.com/pscheid92/pollpulse/internal/server"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(cfg *config.Config) (database.Store, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeStore, err := database.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open durable store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	return store, closeStore
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// startDrainers runs n drainer loops until ctx is cancelled. The returned
// WaitGroup completes once every loop has returned.
func startDrainers(ctx context.Context, n int, drainer *polls.Drainer) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := drainer.Run(ctx); err != nil {
				slog.Error("Drainer stopped", "worker", i, "error", err)
			}
		}()
	}
	return &wg
}

func runGracefulShutdown(srv *server.Server, stopDrainers context.CancelFunc, drainers *sync.WaitGroup, registry *broadcast.Registry, service *polls.Service) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// viewers are hijacked connections, Shutdown does not close them
		registry.Stop()

		stopDrainers()
		drainers.Wait()
		service.Wait()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "store", cfg.StoreBackend)

	store, closeStore := setupStore(cfg)
	defer closeStore()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	cache := redis.NewPollCache(redisClient)
	pending := redis.NewPendingWrites(redisClient)
	bus := redis.NewBus(redisClient)

	service := polls.NewService(store, cache, bus)
	coordinator := polls.NewCoordinator(service, cache, bus, pending)
	drainer := polls.NewDrainer(cache, store, pending, clock)
	registry := broadcast.NewRegistry(bus, clock, cfg.HeartbeatInterval, cfg.MaxViewersPerPoll)

	drainCtx, stopDrainers := context.WithCancel(context.Background())
	drainers := startDrainers(drainCtx, cfg.DrainWorkers, drainer)

	healthChecks := []server.HealthCheck{
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		{Name: "store", Check: store.Ping},
	}
	srv := server.NewServer(cfg, service, coordinator, registry, healthChecks)

	done := runGracefulShutdown(srv, stopDrainers, drainers, registry, service)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
