package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l0p7/iowa/internal/cache"
	"github.com/l0p7/iowa/internal/catalog"
	"github.com/l0p7/iowa/internal/config"
	"github.com/l0p7/iowa/internal/dispatch"
	"github.com/l0p7/iowa/internal/logging"
	"github.com/l0p7/iowa/internal/metrics"
	"github.com/l0p7/iowa/internal/ratelimit"
	"github.com/l0p7/iowa/internal/server"
	"github.com/l0p7/iowa/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "IOWA", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var files []string
	if strings.TrimSpace(*configFile) != "" {
		files = append(files, *configFile)
	}
	loader := config.NewLoader(*envPrefix, files...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	app, err := newApplication(ctx, cfg, logger, recorder, nil)
	if err != nil {
		logger.Error("unable to construct client", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		if err := app.store.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("cache sweeper stopped", slog.Any("error", err))
		}
	}()

	if len(cfg.Sources) > 0 {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			app.rotateCredential(next.Upstream.APIKey)
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := server.New(cfg.Server, logger, app.handler, app.store.Close)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// application is the wired client: cache, gate, executor and the HTTP surface over them.
type application struct {
	store    *cache.Store
	gate     *ratelimit.Gate
	executor *upstream.Executor
	handler  http.Handler
	logger   *slog.Logger
	apiKey   string
}

// newApplication wires the client from a configuration snapshot. client may be
// nil, in which case an HTTP client honouring the connect timeout is built.
func newApplication(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder, client upstream.Doer) (*application, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	times := cfg.Cache.Times

	memory := buildMemoryTier(ctx, logger.With(slog.String("agent", "cache_factory")), cfg.Cache.Memory, times.Tier(times.VeryLong))
	store, err := cache.New(ctx, cache.Options{
		Directory:     cfg.Cache.Directory,
		SaveFailures:  cfg.Cache.SaveFailures,
		SecretParams:  cfg.Cache.SecretParams,
		SweepInterval: times.Tier(times.Medium),
		Memory:        memory,
		Logger:        logger,
		Metrics:       recorder,
		DecodeFailure: upstream.DecodeError,
	})
	if err != nil {
		_ = memory.Close(ctx)
		return nil, fmt.Errorf("cache store: %w", err)
	}

	limits := make([]ratelimit.Limit, 0, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits = append(limits, ratelimit.Limit{Requests: limit.Requests, Window: limit.Window()})
	}
	gate, err := ratelimit.New(ratelimit.Options{Limits: limits, Logger: logger, Metrics: recorder})
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("rate gate: %w", err)
	}

	if client == nil {
		client = upstream.NewHTTPClient(cfg.Upstream.ConnectTimeoutDuration())
	}
	executor, err := upstream.New(upstream.Options{
		Client:            client,
		APIKey:            cfg.Upstream.APIKey,
		CredentialParam:   cfg.Upstream.CredentialParam,
		Regions:           cfg.Upstream.Regions,
		Scheme:            cfg.Upstream.Scheme,
		ResponseTimeout:   cfg.Upstream.ResponseTimeoutDuration(),
		MaxRetries:        cfg.Upstream.MaxRetries,
		DefaultRetryAfter: cfg.Upstream.DefaultRetryAfterDuration(),
		Logger:            logger,
		Metrics:           recorder,
	})
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("upstream executor: %w", err)
	}
	if strings.TrimSpace(cfg.Upstream.APIKey) == "" {
		logger.Warn("no api key configured; upstream calls will be rejected")
	}

	dispatcher := dispatch.New(store, gate, executor, logger)
	handler := server.NewRouter(server.RouterOptions{
		Dispatcher: dispatcher,
		Catalog:    catalog.New(catalog.TiersFromConfig(times)),
		Metrics:    recorder.Handler(),
		Health: func() server.HealthReport {
			return server.HealthReport{
				Status:       "ok",
				CacheEntries: store.Len(),
				GatePending:  gate.Pending(),
			}
		},
		Logger: logger,
	})

	return &application{
		store:    store,
		gate:     gate,
		executor: executor,
		handler:  handler,
		logger:   logger,
		apiKey:   cfg.Upstream.APIKey,
	}, nil
}

// rotateCredential swaps the upstream key when a reloaded snapshot carries a new one.
func (a *application) rotateCredential(key string) {
	if key == a.apiKey {
		return
	}
	a.apiKey = key
	a.executor.SetAPIKey(key)
	a.logger.Info("upstream credential rotated")
}

func buildMemoryTier(ctx context.Context, logger *slog.Logger, cfg config.CacheMemoryConfig, maxAge time.Duration) cache.MemoryTier {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "lru":
		logger.Info("using lru memory tier", slog.Int("max_entries", cfg.MaxEntries), slog.Duration("max_age", maxAge))
		return cache.NewLRUTier(cfg.MaxEntries, maxAge)
	case "redis":
		tier, err := cache.NewValkeyTier(ctx, cache.ValkeyConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis memory tier initialization failed", slog.Any("error", err))
			logger.Info("falling back to lru memory tier")
			return cache.NewLRUTier(cfg.MaxEntries, maxAge)
		}
		logger.Info("using redis memory tier", slog.String("address", cfg.Redis.Address))
		return tier
	default:
		logger.Warn("unsupported memory tier backend, defaulting to lru", slog.String("backend", cfg.Backend))
		return cache.NewLRUTier(cfg.MaxEntries, maxAge)
	}
}
