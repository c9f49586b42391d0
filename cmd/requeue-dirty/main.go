// Command requeue-dirty puts every poll cached in redis back on the
// pending-write queue, optionally draining it into the durable store right
// away. Use it after the durable store was unavailable long enough for
// flushes to be dropped.
//
// With --correct it goes the other way: cached counts that differ from the
// durable ones are overwritten with the durable values. Votes not yet flushed
// are lost, so only use it when the cache is known to be wrong.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollpulse/internal/database"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/platform/config"
	"github.com/pscheid92/pollpulse/internal/polls"
	"github.com/pscheid92/pollpulse/internal/redis"
)

func main() {
	var (
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (don't write to Redis)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
		flush       = flag.Bool("flush", false, "Drain the queue into the durable store after requeueing")
		correct     = flag.Bool("correct", false, "Overwrite cached counts with the durable ones instead of requeueing")
		backend     = flag.String("store", envOr("STORE_BACKEND", config.StoreBackendPostgres), "Durable store for --flush/--correct: postgres or sqlite")
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL for --flush/--correct (or set DATABASE_URL env)")
		sqlitePath  = flag.String("sqlite", envOr("SQLITE_PATH", "pollpulse.db"), "SQLite file for --flush/--correct with --store=sqlite")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, *redisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	cache := redis.NewPollCache(rdb)
	pending := redis.NewPendingWrites(rdb)

	openStore := func() (domain.PollRepository, func()) {
		cfg := &config.Config{StoreBackend: *backend, DatabaseURL: *databaseURL, SQLitePath: *sqlitePath}
		store, closeStore, err := database.OpenStore(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to open durable store: %v", err)
		}
		return store, closeStore
	}

	if *correct {
		store, closeStore := openStore()
		defer closeStore()
		if err := correctCachedPolls(ctx, cache, store, *dryRun); err != nil {
			log.Fatalf("Correction failed: %v", err)
		}
		slog.Info("Correction complete")
		return
	}

	if err := requeueCachedPolls(ctx, cache, pending, *dryRun); err != nil {
		log.Fatalf("Requeue failed: %v", err)
	}

	if *flush && !*dryRun {
		store, closeStore := openStore()
		defer closeStore()

		drainer := polls.NewDrainer(cache, store, pending, clockwork.NewRealClock())
		stats, err := drainer.DrainPending(ctx)
		if err != nil {
			log.Fatalf("Drain failed: %v", err)
		}
		slog.Info("Drain complete", "flushed", stats.Flushed, "failed", stats.Failed)
	}

	slog.Info("Requeue complete")
}

type cachedPolls interface {
	ScanCachedPolls(ctx context.Context, fn func(pollID string) error) error
}

type pendingQueue interface {
	MarkDirty(ctx context.Context, pollID string, increments int64) error
	Len(ctx context.Context) (int64, error)
}

// requeueCachedPolls marks every cached poll dirty once. Polls already
// queued keep their place, their score grows by one.
func requeueCachedPolls(ctx context.Context, cache cachedPolls, pending pendingQueue, dryRun bool) error {
	start := time.Now()
	var requeued int64

	slog.Info("Starting requeue", "dry_run", dryRun)

	before, err := pending.Len(ctx)
	if err != nil {
		return err
	}

	err = cache.ScanCachedPolls(ctx, func(pollID string) error {
		if !dryRun {
			if err := pending.MarkDirty(ctx, pollID, 1); err != nil {
				return err
			}
		}
		slog.Debug("Requeued poll", "poll_id", pollID)
		requeued++
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Requeue summary",
		"requeued", requeued,
		"already_pending", before,
		"duration_ms", time.Since(start).Milliseconds())

	if dryRun {
		return nil
	}

	count, err := pending.Len(ctx)
	if err != nil {
		return err
	}
	slog.Info("Pending queue verification", "size", count, "minimum_expected", requeued)
	if count < requeued {
		slog.Warn("Pending queue smaller than requeued polls, a drainer may be running", "expected", requeued, "actual", count)
	}
	return nil
}

type correctableCache interface {
	cachedPolls
	ReadRaw(ctx context.Context, pollID string) (domain.Counts, error)
	Correct(ctx context.Context, poll *domain.Poll) error
}

type pollSource interface {
	GetPoll(ctx context.Context, id string) (*domain.Poll, error)
}

// correctCachedPolls overwrites the cached counts of every poll whose counts
// differ from the durable store. Polls unknown to the store, or evicted while
// scanning, are left alone.
func correctCachedPolls(ctx context.Context, cache correctableCache, store pollSource, dryRun bool) error {
	start := time.Now()
	var corrected, unchanged, orphaned int

	slog.Info("Starting correction", "dry_run", dryRun)

	err := cache.ScanCachedPolls(ctx, func(pollID string) error {
		log := slog.With("poll_id", pollID)

		durable, err := store.GetPoll(ctx, pollID)
		if errors.Is(err, domain.ErrPollNotFound) {
			log.Warn("Cached poll missing from durable store")
			orphaned++
			return nil
		}
		if err != nil {
			return err
		}

		cached, err := cache.ReadRaw(ctx, pollID)
		if errors.Is(err, domain.ErrCacheMiss) {
			// evicted since the scan saw it; the next read repopulates
			return nil
		}
		if err != nil {
			return err
		}
		want := durable.Counts()
		if maps.Equal(cached, want) {
			unchanged++
			return nil
		}

		log.Info("Correcting cached counts", "cached_total", cached.Total(), "durable_total", want.Total())
		if !dryRun {
			if err := cache.Correct(ctx, durable); err != nil {
				return err
			}
		}
		corrected++
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Correction summary",
		"corrected", corrected,
		"unchanged", unchanged,
		"orphaned", orphaned,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sanitizeURL(url string) string {
	// Hide password in Redis URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":" + credParts[1] + ":***@" + parts[1]
			}
		}
	}
	return url
}
