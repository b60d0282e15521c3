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
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/pnlbot/battle-engine/internal/battle"
	"github.com/pnlbot/battle-engine/internal/config"
	"github.com/pnlbot/battle-engine/internal/ledger"
	"github.com/pnlbot/battle-engine/internal/metrics"
	"github.com/pnlbot/battle-engine/internal/pnl"
	"github.com/pnlbot/battle-engine/internal/rates"
	"github.com/pnlbot/battle-engine/internal/scoring"
	"github.com/pnlbot/battle-engine/internal/store"
	"github.com/pnlbot/battle-engine/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// --- Currency rates ---
	var rp rates.Provider
	switch cfg.RateAPIBase {
	case "static":
		rp = rates.NewStaticProvider(nil)
		slog.Info("using static currency rates (USD only)")
	case "":
		rp = rates.NewCoinGeckoProvider(rates.DefaultCoinGeckoBase, cfg.RateCacheTTL)
	default:
		rp = rates.NewCoinGeckoProvider(cfg.RateAPIBase, cfg.RateCacheTTL)
	}

	// --- Initialize stores ---
	var battles store.Store
	var trades pnl.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("battle schema migration failed", "err", err)
			os.Exit(1)
		}
		battles = pg

		pnlPg := pnl.NewPostgresStore(pool, rp)
		if err := pnlPg.Migrate(context.Background()); err != nil {
			slog.Error("pnl schema migration failed", "err", err)
			os.Exit(1)
		}
		trades = pnlPg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			battles = store.NewCachedStore(battles, rdb, cfg.RedisCacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory stores (data will not persist)")
		battles = store.NewMemoryStore()
		trades = pnl.NewMemoryStore(rp)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Battle engine ---
	scorer := scoring.NewEngine(trades, rp)
	lg := ledger.New(battles)
	engine := battle.NewEngine(battles, scorer, lg, cfg.Moderators)
	svc := battle.NewService(engine, lg, trades)

	if active, err := engine.ListActive(context.Background()); err == nil {
		metrics.ActiveBattles.Set(float64(len(active)))
	} else {
		slog.Warn("could not count active battles at startup", "err", err)
	}

	// --- Expiry sweeper ---
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper := sweep.New(engine, cfg.ScanInterval, logger)
	go func() {
		if err := sweeper.Run(sweepCtx); err != nil {
			slog.Error("sweeper exited", "err", err)
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(metrics.Middleware)

	// CORS middleware for the bot frontend's cross-origin requests.
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
		w.Write([]byte(`{"status":"ok","service":"battle-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Battle lifecycle.
		r.Post("/battles", svc.CreateBattle)
		r.Get("/battles", svc.ListBattles)
		r.Get("/battles/{battleID}", svc.GetBattle)
		r.Get("/battles/{battleID}/standings", svc.GetStandings)
		r.Post("/battles/{battleID}/cancel", svc.CancelBattle)

		// Points leaderboard and per-user views.
		r.Get("/leaderboard", svc.GetLeaderboard)
		r.Get("/users/{userID}/stats", svc.GetUserStats)
		r.Get("/users/{userID}/battles", svc.GetUserBattles)
		r.Get("/users/{userID}/trades", svc.GetUserTrades)
		r.Get("/users/{userID}/pnl", svc.GetUserPNL)

		// PNL records.
		r.Post("/trades", svc.IngestTrade)
		r.Get("/pnl/leaderboard", svc.GetPNLLeaderboard)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("battle-engine listening", "port", cfg.Port, "scan_interval", cfg.ScanInterval)
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

	slog.Info("shutting down battle-engine...")
	stopSweep()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("battle-engine stopped")
}
