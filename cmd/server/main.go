package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/vault-engine/internal/access"
	"github.com/atmx/vault-engine/internal/bank"
	"github.com/atmx/vault-engine/internal/config"
	"github.com/atmx/vault-engine/internal/metrics"
	"github.com/atmx/vault-engine/internal/oracle"
	"github.com/atmx/vault-engine/internal/store"
	"github.com/atmx/vault-engine/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Oracle ---
	var src oracle.Source
	if cfg.Oracle.FeedURL != "" {
		src = oracle.NewHTTPSource(cfg.Oracle.FeedURL)
		slog.Info("oracle feed configured", "url", cfg.Oracle.FeedURL)
	} else {
		// Dev mode: fixed $1.00 price so volatile operations work locally.
		static := oracle.NewStaticSource()
		static.Set(100_000_000, -8, time.Now().UTC())
		src = static
		slog.Warn("oracle feed url not set, using static $1.00 price")
	}
	adapter := oracle.NewAdapter(src, time.Duration(cfg.Oracle.MaxStalenessSeconds)*time.Second)

	poller := oracle.NewPoller(adapter, func(r oracle.Reading) {
		priceF, _ := r.Price.Float64()
		metrics.OraclePrice.Set(priceF)
	})
	if err := poller.Start(cfg.Oracle.PollSpec); err != nil {
		slog.Error("oracle poller failed to start", "err", err)
		os.Exit(1)
	}
	defer poller.Stop()

	// --- Roles ---
	roles := access.NewRegistry()
	roles.Grant(access.RoleAgent, cfg.Roles.AgentAccount, cfg.Roles.AgentToken)
	roles.Grant(access.RoleAdmin, cfg.Roles.AdminAccount, cfg.Roles.AdminToken)

	// --- WebSocket hub ---
	wsHub := vault.NewWSHub()
	go wsHub.Run()

	// --- Vault service ---
	svc := vault.NewService(
		st,
		bank.NewMemoryLedger(),
		bank.NewMemoryBank(),
		bank.NewMemoryBank(),
		adapter,
		roles,
		cfg.Vault.FeeRecipient,
		wsHub,
	)
	if err := svc.Init(context.Background()); err != nil {
		slog.Error("vault state init failed", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(roles.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"vault-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time NAV updates.
		r.Get("/ws", wsHub.HandleWS)

		// Depositor operations.
		r.Post("/deposit", svc.HandleDeposit)
		r.Post("/withdraw", svc.HandleWithdraw)

		// Agent operations.
		r.Post("/agent/request", svc.HandleAgentRequest)
		r.Post("/agent/return", svc.HandleAgentReturn)

		// Admin parameters.
		r.Put("/admin/fee-recipient", svc.HandleSetFeeRecipient)
		r.Put("/admin/staleness", svc.HandleSetStaleness)

		// Query surface.
		r.Get("/vault", svc.HandleStats)
		r.Get("/vault/nav", svc.HandleNav)
		r.Get("/vault/history", svc.HandleHistory)
		r.Get("/positions/{userID}", svc.HandlePosition)
		r.Get("/users/{userID}/events", svc.HandleUserEvents)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("vault-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down vault-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("vault-engine stopped")
}
