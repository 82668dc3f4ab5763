// Package main runs the ledgersync daemon: a local HTTP service that queues
// business-record changes while the hosted database is unreachable and
// replays them when it comes back.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"

	"github.com/kimhsiao/ledgersync/cmd/syncd/handlers"
	"github.com/kimhsiao/ledgersync/internal/cache"
	"github.com/kimhsiao/ledgersync/internal/config"
	"github.com/kimhsiao/ledgersync/internal/connectivity"
	"github.com/kimhsiao/ledgersync/internal/db"
	apperrors "github.com/kimhsiao/ledgersync/internal/errors"
	"github.com/kimhsiao/ledgersync/internal/kv"
	"github.com/kimhsiao/ledgersync/internal/logging"
	"github.com/kimhsiao/ledgersync/internal/metrics"
	"github.com/kimhsiao/ledgersync/internal/remote"
	syncpkg "github.com/kimhsiao/ledgersync/internal/sync"
	"github.com/kimhsiao/ledgersync/internal/sync/queue"
	"github.com/kimhsiao/ledgersync/internal/sync/scheduler"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("LEDGERSYNC_CONFIG"), "path to a YAML config file")
	showVersion := pflag.Bool("version", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("ledgersync v%s\n", Version)
		return
	}

	if err := run(*configPath); err != nil {
		logging.ErrorWithCode("ledgersync exited", string(apperrors.CodeOf(err)), err, nil)
		logging.Get().Sync()
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "load config", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "log.level", err)
	}
	logging.Init(os.Stdout, level)
	log := logging.Get()
	defer log.Sync()

	if cfg.Remote.DSN == "" {
		return apperrors.New(apperrors.ErrConfig, "remote.dsn is required")
	}

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------- local storage ----------
	storage, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer storage.Close()

	// ---------- remote ----------
	pool, err := remote.NewPool(ctx, cfg.Remote.DSN, cfg.Remote.MaxConns)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "remote pool", err)
	}
	defer pool.Close()

	monitor := connectivity.NewMonitor(false)
	go monitor.Probe(ctx, pool, cfg.Remote.ProbeInterval, cfg.Remote.ProbeTimeout)

	// ---------- sync ----------
	q := queue.NewChangeQueue(storage.store, cfg.Storage.QueueKey, cfg.Sync.MaxRetries)
	engine := syncpkg.NewSyncEngine(q, remote.NewPostgresStore(pool), monitor, storage.repo, syncpkg.Config{
		ConflictCheck: cfg.Sync.ConflictCheck,
		PassTimeout:   cfg.Sync.PassTimeout,
	})
	defer engine.Wait()

	hub := NewWSHub()
	go hub.Run(ctx)
	engine.SetEventHandler(hub.HandleSyncEvent)

	sched := scheduler.NewScheduler(engine, monitor, &scheduler.SchedulerConfig{
		Interval:    cfg.Sync.Interval,
		SettleDelay: cfg.Sync.SettleDelay,
		PassTimeout: cfg.Sync.PassTimeout,
	})
	sched.Start(ctx)
	defer sched.Stop()

	// ---------- http ----------
	var repo db.SyncRepository
	if storage.repo != nil {
		repo = storage.repo
	}
	h := handlers.NewSyncHandler(engine, sched, q, repo, monitor)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           newRouter(h, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ledgersync listening", map[string]interface{}{
			"addr":           srv.Addr,
			"version":        Version,
			"storage_driver": cfg.Storage.Driver,
			"pending":        engine.PendingChangesCount(ctx),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter builds the HTTP surface.
func newRouter(h *handlers.SyncHandler, hub *WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	handlers.RegisterRoutes(r, h)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", HandleWebSocket(hub))
	r.NotFound(handlers.NotFound)

	return r
}

// localStorage is the queue store plus, where available, the SQLite
// database holding the conflict log and dropped changes.
type localStorage struct {
	store kv.Store
	repo  *db.Repository

	closers []func() error
}

func (s *localStorage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logging.Warn("Failed to close storage", map[string]interface{}{"error": err.Error()})
		}
	}
}

// openStorage opens the configured queue backend. The sqlite and redis
// drivers both keep the conflict log and dropped changes in SQLite.
func openStorage(ctx context.Context, cfg config.StorageConfig) (*localStorage, error) {
	s := &localStorage{}

	if cfg.Driver == config.DriverMemory {
		logging.Warn("Using in-memory queue; pending changes are lost on restart", nil)
		s.store = kv.NewMemoryStore()
		return s, nil
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "open local database", err)
	}
	s.repo = db.NewRepository(database.DB)
	s.closers = append(s.closers, database.Close, s.repo.Close)
	s.store = s.repo

	if cfg.Driver == config.DriverRedis {
		rs := cache.NewRedisStore(cache.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		s.closers = append(s.closers, rs.Close)
		if err := rs.Ping(ctx); err != nil {
			s.Close()
			return nil, apperrors.Wrap(apperrors.ErrStorage, "connect to redis", err)
		}
		s.store = rs
	}

	logging.Info("Local storage ready", map[string]interface{}{
		"driver":   cfg.Driver,
		"data_dir": cfg.DataDir,
	})
	return s, nil
}
