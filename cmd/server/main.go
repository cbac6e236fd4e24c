package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/api"
	"github.com/sharkyai/sharky/internal/auth"
	"github.com/sharkyai/sharky/internal/config"
	"github.com/sharkyai/sharky/internal/core"
	"github.com/sharkyai/sharky/internal/logging"
	"github.com/sharkyai/sharky/internal/store"
	"github.com/sharkyai/sharky/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connects on first use, so an unreachable database does not stop startup.
	db, err := store.Open(cfg.DatabaseURL, cfg.DatabaseName)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	completer := core.NewGeminiCompleter(core.GeminiConfig{
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.GeminiModel,
		SystemPrompt: cfg.AISystemPrompt,
		Timeout:      cfg.AITimeout,
	}, logger)
	defer completer.Close()
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; AI requests will fail")
	}

	var verifier auth.Verifier
	if cfg.ClerkJWKSURL != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, cfg.ClerkJWKSURL, cfg.AuthorizedParties, logger)
		if err != nil {
			return fmt.Errorf("create jwks verifier: %w", err)
		}
		verifier = jwks
		logger.Info("verifying session tokens against JWKS", zap.String("url", cfg.ClerkJWKSURL))
	} else {
		verifier = auth.NewHMACVerifier(cfg.JWTSecret)
		logger.Info("verifying session tokens with shared secret")
	}

	var guard webhook.Guard = webhook.NopGuard{}
	if cfg.RedisURL != "" {
		redisGuard, err := webhook.NewRedisGuard(ctx, cfg.RedisURL, webhook.DefaultTTL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisGuard.Close()
		guard = redisGuard
	}

	chatService := core.NewChatService(db, completer, logger)
	identityService := core.NewIdentityService(db, logger)

	apiHandler := api.NewAPIHandler(chatService, verifier, db, logger)
	webhookHandler, err := api.NewWebhookHandler(cfg.WebhookSecret, identityService, guard, logger)
	if err != nil {
		return fmt.Errorf("create webhook handler: %w", err)
	}
	router := api.NewRouter(apiHandler, webhookHandler, cfg.CORSOrigins, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AITimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
