package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/AngelCh415/leadscore/internal/auth"
	"github.com/AngelCh415/leadscore/internal/cache"
	"github.com/AngelCh415/leadscore/internal/config"
	"github.com/AngelCh415/leadscore/internal/httpx"
	"github.com/AngelCh415/leadscore/internal/ingest"
	"github.com/AngelCh415/leadscore/internal/logging"
	"github.com/AngelCh415/leadscore/internal/metrics"
	"github.com/AngelCh415/leadscore/internal/notify"
	"github.com/AngelCh415/leadscore/internal/scoring"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/supervisor"
	"github.com/AngelCh415/leadscore/internal/tracking"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	logger := logging.NewSlog(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rules := scoring.DefaultRules()
	if cfg.ScoringRulesPath != "" {
		r, err := scoring.LoadRules(cfg.ScoringRulesPath)
		if err != nil {
			return err
		}
		rules = r
		logger.Info("scoring rules loaded", slog.String("path", cfg.ScoringRulesPath), slog.Int("events", rules.Len()))
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	for _, id := range cfg.AdminUserIDs {
		if err := st.GrantRole(ctx, id, auth.RoleAdmin); err != nil {
			return err
		}
	}

	reportCache := newCache(ctx, cfg, logger)
	reports := metrics.NewService(st, reportCache, cfg.ReportCacheTTL, logger)

	cl := ingest.NewHTTPClient(cfg.HTTPTimeout)
	etl := ingest.NewETL(cl, st, reports, logger, ingest.Config{
		AdsURL:     cfg.AdsURL,
		CrmURL:     cfg.CrmURL,
		SinkURL:    cfg.SinkURL,
		SinkSecret: cfg.SinkSecret,
	})

	bus := notify.NewBus(logger)
	defer bus.Close()
	phoneBot := ingest.NewWebhookPoster("phone_bot", cl, cfg.PhoneBotWebhookURL, cfg.WebhookSecret, logger)
	if !phoneBot.Enabled() {
		logger.Info("phone bot webhook disabled")
	}

	jwtm, err := auth.NewJWTManager(cfg.JWTSecret)
	if err != nil {
		return err
	}
	enforcer, err := auth.NewEnforcer()
	if err != nil {
		return err
	}

	r := httpx.NewRouter(httpx.Deps{
		Log:         logger,
		Store:       st,
		Tracking:    tracking.NewService(st, rules, bus, logger),
		Reports:     reports,
		ETL:         etl,
		Auth:        auth.NewMiddleware(jwtm, st, enforcer, logger),
		CORSOrigins: cfg.CORSOrigins,
		Limits: httpx.Limits{
			Lead:   cfg.LeadRateLimit,
			Signal: cfg.SignalRateLimit,
			Window: cfg.RateWindow,
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddWorker(notify.NewDispatcher(bus, phoneBot, logger))
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, 10*time.Second))

	logger.Info("starting server", slog.String("port", cfg.Port))
	return tree.Serve(ctx)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	st, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", slog.String("driver", cfg.DatabaseDriver))
	return st, nil
}

func newCache(ctx context.Context, cfg config.Config, logger *slog.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(cfg.ReportCacheSize)
	}
	rc := cache.NewRedis(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}), "leadscore:")
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pctx); err != nil {
		logger.Warn("redis unreachable, reports will miss cache until it recovers", slog.String("err", err.Error()))
	}
	return rc
}
