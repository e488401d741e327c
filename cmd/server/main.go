package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/certhub/mailer/internal/api"
	"github.com/certhub/mailer/internal/campaign"
	"github.com/certhub/mailer/internal/config"
	"github.com/certhub/mailer/internal/pkg/distlock"
	"github.com/certhub/mailer/internal/pkg/logger"
	"github.com/certhub/mailer/internal/repository/postgres"
	"github.com/certhub/mailer/internal/template"
	"github.com/certhub/mailer/internal/token"
	"github.com/certhub/mailer/internal/transport"
)

func main() {
	log := logger.With("server")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, falling back to pg advisory locks", "error", err)
			redisClient = nil
		}
	}

	tokenStore := token.NewStore(
		postgres.NewCredentialRepo(db),
		&oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuth.TokenURL},
			Scopes:       cfg.OAuth.Scopes,
		},
		cfg.OAuth.SafetyMargin(),
	)

	tr, err := buildTransport(ctx, cfg, tokenStore)
	if err != nil {
		log.Error("failed to build transport", "error", err)
		os.Exit(1)
	}

	svc := campaign.NewService(campaign.Deps{
		Repo:      postgres.NewCampaignRepo(db),
		Source:    postgres.NewRecipientRepo(db),
		Ledger:    postgres.NewLedgerRepo(db),
		Transport: tr,
		Tokens:    tokenStore,
		Renderer:  template.NewRenderer(),
	}, campaign.Config{
		BatchSize:        cfg.Sending.BatchSize,
		BatchDelay:       cfg.Sending.BatchDelay(),
		SendTimeout:      cfg.Sending.SendTimeout(),
		RetryMaxAttempts: cfg.Retry.MaxAttempts,
		RetryBaseDelay:   cfg.Retry.BaseDelay(),
	})

	go runScheduler(ctx, svc, redisClient, db, cfg.Sending.SchedulerTick())

	origins := strings.Split(os.Getenv("CORS_ORIGINS"), ",")
	if len(origins) == 1 && origins[0] == "" {
		origins = nil
	}
	router := api.SetupRoutes(api.NewHandlers(svc), origins)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE endpoints hold the connection open
	}

	go func() {
		log.Info("listening", "addr", cfg.Server.Addr(), "provider", cfg.Provider.Type)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

func buildTransport(ctx context.Context, cfg *config.Config, tokens transport.TokenSource) (transport.Transport, error) {
	switch cfg.Provider.Type {
	case "ses":
		return transport.NewSESTransport(ctx,
			cfg.Provider.SES.Region, cfg.Provider.SES.AccessKey, cfg.Provider.SES.SecretKey)
	default:
		return transport.NewGmailTransport(
			cfg.Provider.Gmail.BaseURL, tokens,
			time.Duration(cfg.Provider.Gmail.TimeoutSeconds)*time.Second,
			cfg.Provider.Gmail.MaxRetries,
		), nil
	}
}

// runScheduler polls for scheduled campaigns whose time has arrived.
// The distributed lock keeps multi-node deployments from double-sending.
func runScheduler(ctx context.Context, svc *campaign.Service, redisClient *redis.Client, db *sql.DB, tick time.Duration) {
	log := logger.With("scheduler")
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lock := distlock.NewLock(redisClient, db, "mailer:scheduler", tick)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			log.Warn("lock acquire failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		n, err := svc.DispatchDue(ctx)
		if err != nil {
			log.Error("dispatch failed", "error", err)
		} else if n > 0 {
			log.Info("dispatched scheduled campaigns", "count", n)
		}
		if err := lock.Release(ctx); err != nil {
			log.Warn("lock release failed", "error", err)
		}
	}
}
