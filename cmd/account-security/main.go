package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/secwatch/account-security/internal/adapters/cache"
	"github.com/secwatch/account-security/internal/adapters/httpapi"
	"github.com/secwatch/account-security/internal/adapters/storage"
	"github.com/secwatch/account-security/internal/application"
	"github.com/secwatch/account-security/internal/config"
	"github.com/secwatch/account-security/internal/domain"
	"github.com/secwatch/account-security/internal/domain/classifier"
	"github.com/secwatch/account-security/internal/domain/detection"
	"github.com/secwatch/account-security/internal/domain/risk"
	"github.com/secwatch/account-security/internal/metrics"
	"github.com/secwatch/account-security/internal/ports"
)

const limiterCleanupInterval = time.Minute

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Account security service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting account security service", zap.String("addr", cfg.HTTP.Addr))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Storage (driven port implementation)
	store, err := newStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	scanCache, err := newScanCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	if scanCache != nil {
		defer scanCache.Close()
	}

	// Domain services
	clf := classifier.New(cfg.Model.Path, classifier.WithLoadObserver(func(err error, elapsed time.Duration) {
		if err != nil {
			m.ObserveModelLoad("error")
			logger.Error("Failed to load phishing model", zap.String("path", cfg.Model.Path), zap.Error(err))
			return
		}
		m.ObserveModelLoad("ok")
		logger.Info("Phishing model loaded", zap.String("path", cfg.Model.Path), zap.Duration("elapsed", elapsed))
	}))

	detector := detection.NewDetector(store,
		&detection.BruteForceStrategy{
			Window:    cfg.Detection.BruteForce.Window,
			Threshold: cfg.Detection.BruteForce.Threshold,
			RiskDelta: cfg.Detection.BruteForce.RiskDelta,
		},
		&detection.BehaviorBurstStrategy{
			Window:     cfg.Detection.Burst.Window,
			MaxActions: cfg.Detection.Burst.MaxActions,
			RiskDelta:  cfg.Detection.Burst.RiskDelta,
		},
	)

	policy, err := risk.NewBandPolicy(cfg.Risk.Bands)
	if err != nil {
		return fmt.Errorf("invalid risk bands: %w", err)
	}
	engine := risk.NewEngine(store, policy)

	// Application service (dependency injection via constructor)
	opts := []application.Option{
		application.WithWrongPasswordDelta(cfg.Detection.WrongPasswordDelta),
		application.WithMetrics(m),
	}
	if scanCache != nil {
		opts = append(opts, application.WithScanCache(scanCache))
	}
	service := application.NewMonitoringService(store, clf, detector, engine, logger, opts...)

	if cfg.SeedDemoUsers {
		seedDemoUsers(ctx, store, logger)
	}

	var limiter *httpapi.UserLimiter
	if cfg.RateLimit.Enabled {
		limiter = httpapi.NewUserLimiter(cfg.RateLimit.ScansPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.ClientExpiration)
	}
	if cfg.Admin.Token == "" {
		logger.Warn("No admin token configured, admin API is disabled")
	}
	if cfg.AuthHook.Token == "" {
		logger.Warn("No auth hook token configured, login event hook is disabled")
	}

	api := httpapi.NewServer(service, logger, httpapi.Config{
		AdminToken: cfg.Admin.Token,
		HookToken:  cfg.AuthHook.Token,
		Limiter:    limiter,
		Metrics:    m,
		Gatherer:   reg,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	if limiter != nil {
		g.Go(func() error {
			limiter.Run(gctx, limiterCleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func newStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (ports.Storage, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := storage.NewPostgresStore(connectCtx, cfg.URL, storage.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Connected to PostgreSQL")

	if cfg.Migrate {
		if err := store.InitSchema(); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		logger.Info("Database schema initialized")
	}
	return store, nil
}

func newScanCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (ports.ScanCache, error) {
	switch cfg.Backend {
	case "redis":
		c, err := cache.NewRedisScanCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Scan cache backed by Redis", zap.String("addr", cfg.RedisAddr))
		return c, nil
	case "memory":
		return cache.NewMemoryScanCache(cfg.Size, cfg.TTL), nil
	default:
		return nil, nil
	}
}

// seedDemoUsers creates the local demo accounts. CreateUser upserts by
// username so restarts are harmless.
func seedDemoUsers(ctx context.Context, store ports.UserStore, logger *zap.Logger) {
	users := []*domain.User{
		{Username: "admin", Email: "admin@example.com", IsAdmin: true},
		{Username: "alice", Email: "alice@example.com"},
		{Username: "bob", Email: "bob@example.com"},
	}
	for _, u := range users {
		if err := store.CreateUser(ctx, u); err != nil {
			logger.Warn("Demo user creation skipped", zap.String("username", u.Username), zap.Error(err))
			continue
		}
		logger.Info("Demo user ready", zap.String("username", u.Username), zap.Int64("id", u.ID))
	}
}
