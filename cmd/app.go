package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/config"
	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/enrollment"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/mastery"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/routine"
	"github.com/abhisek/pathwise/internal/scheduler"
	"github.com/abhisek/pathwise/internal/store"
)

// app holds every service built from the configuration.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	store       *store.Store
	codec       *curriculum.Codec
	curricula   *curriculum.Store
	enrollments *enrollment.Service
	tracker     *mastery.Tracker
	routines    *routine.Store
	scheduler   *scheduler.Service
	registry    *prometheus.Registry
	redis       *keylock.Redis
}

// loadConfig reads the config file named by --config and applies --db.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		cfg.Store.DSN = p
	}
	return cfg, nil
}

// resolveDSN returns the database DSN using --db or the config (highest
// priority), then PATHWISE_DB, then the default XDG path.
func resolveDSN(cfg config.Config) (string, error) {
	if cfg.Store.DSN != "" {
		return cfg.Store.DSN, store.EnsureDir(cfg.Store.DSN)
	}
	return store.DefaultDBPath()
}

// openApp opens the store and builds all services.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	dsn, err := resolveDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve database: %w", err)
	}
	st, err := store.Open(store.Config{
		DSN:        dsn,
		ChunkSize:  cfg.Store.ChunkSize,
		ChunkDelay: cfg.Store.ChunkDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: st}

	var locker keylock.Locker = keylock.NewLocal()
	if cfg.Lock.Backend == config.LockBackendRedis {
		rcfg := keylock.DefaultRedisConfig()
		rcfg.URL = cfg.Lock.RedisURL
		if cfg.Lock.TTL > 0 {
			rcfg.TTL = cfg.Lock.TTL
		}
		a.redis, err = keylock.NewRedis(ctx, rcfg)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect lock backend: %w", err)
		}
		locker = a.redis
	}

	a.codec, err = curriculum.NewCodec()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create codec: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	a.curricula = curriculum.NewStore(st, a.codec)
	a.enrollments = enrollment.NewService(st, a.curricula, locker, logger, m)
	a.tracker = mastery.NewTracker(st, locker, logger, m, mastery.Config{
		Prior: cfg.Mastery.Prior,
		Alpha: cfg.Mastery.Alpha,
	})
	a.routines = routine.NewStore(st, locker, logger, routine.DefaultRecentLimit)
	a.scheduler = scheduler.New(scheduler.Deps{
		Views:    a.enrollments,
		Mastery:  a.tracker,
		Routines: a.routines,
		Catalog:  a.curricula,
	},
		recommend.New(scheduler.EngineConfig(cfg.Recommend)),
		scheduler.DefaultConstraints(cfg.Recommend),
		logger,
		m,
	)
	return a, nil
}

// health pings every backend.
func (a *app) health(ctx context.Context) error {
	err := a.store.Ping(ctx)
	if a.redis != nil {
		err = errors.Join(err, a.redis.Health(ctx))
	}
	return err
}

// Close releases the store, codec, and lock backend.
func (a *app) Close() {
	if a.codec != nil {
		a.codec.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}
