package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"auth-starter/internal/config"
	"auth-starter/internal/db"
	"auth-starter/internal/email"
	apihttp "auth-starter/internal/http"
	"auth-starter/internal/repository"
	"auth-starter/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	userRepo := repository.NewPgUserRepository(pool)
	tokenRepo := repository.NewPgTokenRepository(pool)
	ledger := service.NewTokenLedger(tokenRepo)
	hasher := service.NewBcryptHasher(cfg.BcryptCost)

	var emailSender email.Sender = email.NewLogSender(logger)
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SiteName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	rateWindow := time.Duration(cfg.RateLimitWindowMinutes) * time.Minute
	limiter := service.NewRateLimiter(rateWindow, cfg.RateLimitMax)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			limiter = service.NewRedisRateLimiter(redisClient, rateWindow, cfg.RateLimitMax)
		}
		cancel()
	}

	authSvc := service.NewAuthService(logger, userRepo, ledger, hasher, emailSender, limiter, service.AuthServiceOptions{
		VerifyTokenTTL:  time.Duration(cfg.VerifyTokenTTLMinutes) * time.Minute,
		ResetTokenTTL:   time.Duration(cfg.ResetTokenTTLMinutes) * time.Minute,
		SessionTokenTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
	})

	if cfg.TokenSweepMinutes > 0 {
		go sweepExpiredTokens(ctx, logger, ledger, time.Duration(cfg.TokenSweepMinutes)*time.Minute)
	}

	authHandler := apihttp.NewAuthHandler(logger, authSvc)
	router := apihttp.NewRouter(logger, authHandler, authSvc)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

func sweepExpiredTokens(ctx context.Context, logger *zap.Logger, ledger *service.TokenLedger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.SweepExpired(ctx)
			if err != nil {
				logger.Warn("token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("token sweep", zap.Int64("deleted", n))
			}
		}
	}
}
