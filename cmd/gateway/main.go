package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/relay-gateway/internal/anthropic"
	"github.com/af-corp/relay-gateway/internal/auth"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/gateway"
	"github.com/af-corp/relay-gateway/internal/health"
	"github.com/af-corp/relay-gateway/internal/policy"
	"github.com/af-corp/relay-gateway/internal/ratelimit"
	"github.com/af-corp/relay-gateway/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	loader := config.NewLoader(*configDir, slog.Default())
	if err := loader.Load(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	ctx := context.Background()

	// PostgreSQL backs gateway keys only.
	var dbPool *pgxpool.Pool
	if cfg.Auth.Enabled {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			logger.Error("invalid database configuration", "error", err)
			os.Exit(1)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Error("failed to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (gateway will start but key auth will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
		dbPool = pool
	}

	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (key cache and rate limits fail open)", "error", err)
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	breaker := health.NewBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryProbeInterval)
	breaker.OnChange(func(from, to health.State) {
		metrics.SetBreakerState(int(to))
		logger.Warn("upstream circuit state changed", "from", from.String(), "to", to.String())
	})

	checker := health.NewChecker(breaker, 0)
	if dbPool != nil {
		checker.Register("postgres", dbPool.Ping)
	}
	if rdb != nil {
		checker.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	var evaluator gateway.PolicyEvaluator
	if cfg.Policy.Enabled {
		ev := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy })
		if err := ev.Load(); err != nil {
			logger.Error("failed to load policies", "error", err)
			os.Exit(1)
		}
		loader.OnReload(func() {
			if err := ev.Load(); err != nil {
				logger.Error("failed to reload policies, keeping previous set", "error", err)
			}
		})
		evaluator = ev
	}

	upstream := anthropic.NewClient(cfg.Upstream, anthropic.NewHTTPClient(cfg.Upstream))
	handler := gateway.NewHandler(upstream, loader.Config, loader.Pricing, breaker, evaluator, metrics)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/healthz", health.LiveHandler)
	r.Get("/readyz", checker.ReadyHandler)
	r.Handle(cfg.Telemetry.MetricsPath, promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(auth.Middleware(auth.NewCachedKeyStore(dbPool, rdb)))
		}
		if cfg.RateLimit.Enabled {
			r.Use(ratelimit.Middleware(ratelimit.NewLimiter(rdb), loader.Config, metrics))
		}
		r.Post("/v1/chat", handler.Chat)
		r.Post("/v1/chat/completions", handler.Chat)
	})

	// Open streams never go idle, so shutdown cancels their contexts to let
	// producers close upstream connections and handlers return.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelStreams)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version, "upstream", cfg.Upstream.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}
