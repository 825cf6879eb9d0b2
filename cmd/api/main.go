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

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"learnhub/internal/config"
	"learnhub/internal/content"
	"learnhub/internal/exporter"
	transporthttp "learnhub/internal/http"
	"learnhub/internal/identity"
	"learnhub/internal/learning"
	"learnhub/internal/metrics"
	"learnhub/internal/platform/database"
	"learnhub/internal/platform/logging"
	"learnhub/internal/platform/migrate"
	"learnhub/internal/session"
)

const (
	memoryCacheSize      = 256
	tokenCleanupInterval = time.Hour
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	durableCache, cleanup, err := buildDurableCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize token store", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}
	sessionCache := identity.NewMemoryTokenCache(memoryCacheSize, cfg.SessionCacheTTL)

	broker := identity.NewCallbackBroker()
	identityHTTP := &http.Client{Timeout: 15 * time.Second}

	orgClient, err := buildOIDCClient(identity.ProviderOrganization, cfg.Organization, cfg, sessionCache, durableCache, broker, identityHTTP, logger)
	if err != nil {
		logger.Error("failed to configure organization provider", "error", err)
		os.Exit(1)
	}
	personalClient, err := buildOIDCClient(identity.ProviderPersonal, cfg.Personal, cfg, sessionCache, durableCache, broker, identityHTTP, logger)
	if err != nil {
		logger.Error("failed to configure personal provider", "error", err)
		os.Exit(1)
	}

	sessions, err := session.NewManager(orgClient, personalClient,
		session.WithEnricher(identity.NewUserInfoClient(identityHTTP, cfg.UserInfoURL)),
		session.WithRecorder(collector),
		session.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create session manager", "error", err)
		os.Exit(1)
	}

	acquisition, err := sessions.Initialize(ctx)
	if err != nil {
		logger.Warn("session restore failed", "error", err)
	} else {
		logger.Info("session restore finished", "provider", acquisition.Provider, "outcome", acquisition.Outcome.String())
	}

	contentClient := content.NewClient(
		&http.Client{Timeout: cfg.ContentAPITimeout},
		cfg.ContentSiteHostname,
		cfg.ContentSitePath,
		content.WithBaseURL(cfg.ContentAPIURL),
		content.WithRateLimit(cfg.ContentAPIRPS, int(cfg.ContentAPIRPS)),
		content.WithRecorder(collector),
		content.WithLogger(logger),
	)
	learningSvc := learning.NewService(contentClient,
		learning.WithRecorder(collector),
		learning.WithLogger(logger),
	)

	router := transporthttp.NewRouter(cfg, transporthttp.Dependencies{
		Sessions: sessions,
		Broker:   broker,
		EndSession: map[identity.ProviderID]transporthttp.EndSessionResolver{
			identity.ProviderOrganization: orgClient,
			identity.ProviderPersonal:     personalClient,
		},
		Learning: learningSvc,
		Exporter: exporter.NewCSVExporter(),
		Metrics:  metrics.Handler(registry),
	}, logger)

	// No WriteTimeout: the session event stream and pending logins outlive it.
	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("LearnHub API listening", "addr", srv.Addr, "store", cfg.TokenStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildOIDCClient(
	id identity.ProviderID,
	settings config.ProviderSettings,
	cfg config.Config,
	sessionCache, durableCache identity.TokenCache,
	prompter identity.Prompter,
	httpClient *http.Client,
	logger *slog.Logger,
) (*identity.OIDCClient, error) {
	location := identity.CacheLocation(settings.CacheLocation)
	cache := sessionCache
	if location == identity.CacheDurable {
		cache = durableCache
	}

	return identity.NewOIDCClient(identity.ProviderConfig{
		ID:                    id,
		ClientID:              settings.ClientID,
		ClientSecret:          settings.ClientSecret,
		AuthorityURL:          settings.Authority,
		RedirectURL:           cfg.RedirectURL,
		PostLogoutRedirectURL: cfg.PostLogoutRedirectURL,
		CacheLocation:         location,
		Scopes:                settings.Scopes,
		AuthParams:            settings.AuthParams,
		SkipIssuerCheck:       settings.MultiTenant,
	}, cache, prompter,
		identity.WithHTTPClient(httpClient),
		identity.WithLogger(logger.With("provider", string(id))),
	)
}

// buildDurableCache returns the token cache for providers configured with
// durable storage, backed by TOKEN_STORE.
func buildDurableCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (identity.TokenCache, func(), error) {
	switch cfg.TokenStore {
	case "postgres":
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.Apply(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		cache := identity.NewPostgresTokenCache(db, cfg.DurableCacheTTL)
		cleanupCtx, cancel := context.WithCancel(ctx)
		go purgeExpiredTokens(cleanupCtx, cache, logger)

		logger.Info("connected to postgres")
		return cache, func() {
			cancel()
			_ = db.Close()
		}, nil
	case "redis":
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to redis")
		return identity.NewRedisTokenCache(client, cfg.DurableCacheTTL), func() {
			_ = client.Close()
		}, nil
	case "memory":
		if cfg.UsesDurableCache() {
			logger.Warn("durable token cache requested but TOKEN_STORE is memory; tokens will not survive restarts")
		}
		return identity.NewMemoryTokenCache(memoryCacheSize, cfg.DurableCacheTTL), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported token store %q", cfg.TokenStore)
	}
}

func purgeExpiredTokens(ctx context.Context, cache *identity.PostgresTokenCache, logger *slog.Logger) {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cache.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("purge expired tokens", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("purged expired tokens", "count", removed)
			}
		}
	}
}
