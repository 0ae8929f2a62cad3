package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lanternhq/lantern/pkg/access"
	"github.com/lanternhq/lantern/pkg/api"
	"github.com/lanternhq/lantern/pkg/assignment"
	"github.com/lanternhq/lantern/pkg/audit"
	"github.com/lanternhq/lantern/pkg/bootstrap"
	"github.com/lanternhq/lantern/pkg/config"
	"github.com/lanternhq/lantern/pkg/guard"
	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/observability"
)

// adminCapabilityID is the seed catalog feature that gates the admin API.
const adminCapabilityID = "platform-admin-catalog"

func main() {
	guardAdmin := flag.Bool("guard-admin", false, "Gate administrative routes behind the catalog editor capability")
	flag.Parse()

	startup := logrus.New()
	startup.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		startup.WithError(err).Fatal("failed to load configuration")
	}
	startup.SetLevel(logrusLevel(cfg.Observability.LogLevel))

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		store   hierarchy.Store
		backend assignment.Backend
		db      *sql.DB
	)
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		db, err = sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			startup.WithError(err).Fatal("failed to open database")
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.PostgresTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			startup.WithError(err).Fatal("failed to ping database")
		}

		if err := hierarchy.RunMigrations(ctx, db); err != nil {
			startup.WithError(err).Fatal("hierarchy migrations failed")
		}
		if err := assignment.RunMigrations(ctx, db); err != nil {
			startup.WithError(err).Fatal("assignment migrations failed")
		}

		store = hierarchy.NewSQLStore(db)
		backend = assignment.NewSQLBackend(db)
	case config.StorageMemory:
		store = hierarchy.NewMemoryStore()
		backend = assignment.NewMemoryBackend()
	}
	startup.WithField("storage", cfg.Storage.Type).Info("storage initialized")

	// Decision cache
	var (
		cache       access.DecisionCache
		lruCache    *access.LRUCache
		redisClient *redis.Client
	)
	switch cfg.Cache.Type {
	case config.CacheLRU:
		lruCache, err = access.NewLRUCache(cfg.Cache.LRUSize, cfg.Cache.TTL)
		if err != nil {
			startup.WithError(err).Fatal("failed to build decision cache")
		}
		cache = lruCache
	case config.CacheRedis:
		redisCache, err := access.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
		if err != nil {
			startup.WithError(err).Fatal("failed to connect to redis")
		}
		defer redisCache.Close()
		cache = redisCache
		redisClient = redisCache.Client()
	}

	// Audit trail
	var auditor audit.Logger = audit.NewNopLogger()
	if cfg.Audit.Type == config.AuditFile {
		fileAuditor, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.FilePath,
			Rotate:   true,
		})
		if err != nil {
			startup.WithError(err).Fatal("failed to open audit log")
		}
		defer fileAuditor.Close()
		auditor = fileAuditor
	}

	// Seed the capability catalog. A failed seed leaves the registry in
	// an undefined state, so this is fatal.
	if err := bootstrap.Load(ctx, store, logger); err != nil {
		startup.WithError(err).Fatal("failed to load seed catalog")
	}

	assignments := assignment.NewService(backend, store)
	resolver := access.NewResolver(store, cache, logger, metrics)
	accessGuard := guard.New(resolver, auditor, logger, metrics)

	serverOpts := api.Options{
		Store:                store,
		Assignments:          assignments,
		Resolver:             resolver,
		Guard:                accessGuard,
		Logger:               logger,
		Metrics:              metrics,
		MaxBodyBytes:         cfg.Server.MaxBodyBytes,
		TrustIdentityHeaders: cfg.Server.TrustIdentityHeaders,
	}
	if *guardAdmin {
		serverOpts.AdminCapability = guard.Requires(adminCapabilityID)
	}
	server := api.NewServer(serverOpts)

	// Periodic invariant audit and cache sweep.
	janitor := cron.New()
	if schedule := cfg.Observability.JanitorSchedule; schedule != "" {
		_, err := janitor.AddFunc(schedule, func() {
			auditInvariants(context.Background(), store, logger, metrics)
			if lruCache != nil {
				swept := lruCache.SweepExpired(context.Background())
				if swept > 0 {
					logger.WithField("entries", swept).Debug("swept expired decisions")
				}
			}
		})
		if err != nil {
			startup.WithError(err).Fatal("invalid janitor schedule")
		}
		janitor.Start()
		defer janitor.Stop()
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		startup.WithField("addr", apiServer.Addr).Info("starting API server")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		startup.WithField("addr", healthServer.Addr).Info("starting health server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		startup.Info("shutting down")
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			startup.WithError(err).Warn("API server shutdown")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		startup.WithError(err).Fatal("server exited")
	}
	startup.Info("stopped")
}

// auditInvariants scans a snapshot of the forest for structural damage.
// Violations mean a bug or out-of-band writes; they are surfaced via
// logs and metrics rather than repaired automatically.
func auditInvariants(ctx context.Context, store hierarchy.Store, logger *observability.Logger, metrics *observability.Metrics) {
	nodes, err := store.ListNodes(ctx)
	if err != nil {
		logger.WithError(err).Error("invariant audit: failed to list nodes")
		return
	}

	metrics.HierarchyNodesTotal.Set(float64(len(nodes)))

	if bad := hierarchy.CheckAcyclicity(nodes); len(bad) > 0 {
		metrics.InvariantViolationsTotal.WithLabelValues("acyclicity").Add(float64(len(bad)))
		logger.WithField("node_ids", bad).Error("invariant audit: cycle detected")
	}
	if bad := hierarchy.CheckBidirectional(nodes); len(bad) > 0 {
		metrics.InvariantViolationsTotal.WithLabelValues("bidirectional").Add(float64(len(bad)))
		logger.WithField("node_ids", bad).Error("invariant audit: parent/children mismatch")
	}
}

func logrusLevel(level observability.LogLevel) logrus.Level {
	switch level {
	case observability.DebugLevel:
		return logrus.DebugLevel
	case observability.WarnLevel:
		return logrus.WarnLevel
	case observability.ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
