package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cariusb-relay/internal/config"
	"cariusb-relay/internal/db"
	apihttp "cariusb-relay/internal/http"
	"cariusb-relay/internal/paramstore"
	"cariusb-relay/internal/repository"
	"cariusb-relay/internal/service"
	"cariusb-relay/internal/upstream"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn("config", zap.String("warning", w))
	}

	var (
		usageRepo   repository.UsageRepository
		profileRepo repository.ProfileRepository
	)
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	switch {
	case errors.Is(err, db.ErrNoDatabaseURL):
		logger.Info("running without database; usage is not tracked")
	case err != nil:
		logger.Fatal("db connect", zap.Error(err))
	default:
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Warn("db ping failed", zap.Error(err))
		}
		usageRepo = repository.NewPgUsageRepository(pool)
		profileRepo = repository.NewPgProfileRepository(pool)
	}

	limiter := service.NewMemoryRateLimiter(time.Minute, cfg.RateLimitPerMinute)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed; using in-memory rate limiter", zap.Error(err))
		} else {
			limiter = service.NewRedisRateLimiter(redisClient, time.Minute, cfg.RateLimitPerMinute, logger)
		}
		cancel()
	}

	secret := cfg.WebhookSecret
	if secret == "" && cfg.WebhookSecretParam != "" {
		secret = resolveWebhookSecret(ctx, cfg.WebhookSecretParam, logger)
	}

	selector := service.NewUpstreamSelector(cfg.WebhookURLs(), cfg.WebhookURL, secret)
	transport := upstream.NewClient(nil, cfg.RequestTimeout(), logger)
	normalizer := service.NewNormalizer(cfg.StreamTokenDelay(), logger)
	jwtSvc := service.NewJWTService(cfg.SupabaseJWTSecret)
	usageSvc := service.NewUsageService(usageRepo, profileRepo, cfg.UsageEnforced, logger)
	relaySvc := service.NewRelayService(logger, selector, transport, normalizer, jwtSvc, limiter, usageSvc)

	chatHandler := apihttp.NewChatHandler(logger, relaySvc)
	usageHandler := apihttp.NewUsageHandler(logger, usageSvc)
	router := apihttp.NewRouter(logger, chatHandler, usageHandler, jwtSvc)

	// Sin WriteTimeout: los turnos se transmiten durante todo el stream.
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout()+5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.Duration("request_timeout", cfg.RequestTimeout()),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	usageSvc.Wait()
	logger.Info("server stopped")
}

// resolveWebhookSecret lee el secreto desde SSM. Un fallo deja el secreto
// vacio y cada turno responde ENV_MISSING.
func resolveWebhookSecret(ctx context.Context, param string, logger *zap.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := paramstore.NewFromDefaultConfig(ctx)
	if err != nil {
		logger.Warn("ssm client init failed", zap.Error(err))
		return ""
	}
	secret, err := paramstore.ResolveSecret(ctx, store, "", param)
	if err != nil {
		logger.Warn("webhook secret lookup failed", zap.String("param", param), zap.Error(err))
		return ""
	}
	logger.Info("webhook secret loaded from ssm", zap.String("param", param))
	return secret
}
