package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/busticket/internal/config"
	"github.com/example/busticket/internal/database"
	"github.com/example/busticket/internal/handlers"
	"github.com/example/busticket/internal/ratelimit"
	"github.com/example/busticket/internal/routes"
	"github.com/example/busticket/internal/services"
	"github.com/example/busticket/internal/store"
)

func main() {
	cfg := config.Load()

	log := newLogger(cfg)
	defer log.Sync() //nolint:errcheck

	if cfg.UsesDefaultSecret() {
		log.Warn("JWT_SECRET is not set; using the built-in default secret")
	}

	db := database.Connect(cfg.DBDriver, cfg.DatabaseURL, log)

	if !cfg.Email.KnownProvider() {
		log.Warn("unknown EMAIL_PROVIDER; OTP emails will not be delivered",
			zap.String("provider", cfg.Email.Provider))
	}

	notifier := services.NewNotifier(cfg.Email, cfg.OTPTTL, log)
	if mailer, ok := notifier.(*services.EmailService); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := mailer.Verify(ctx); err != nil {
			log.Warn("email service verification failed; OTP delivery may not work",
				zap.String("provider", cfg.Email.Provider), zap.Error(err))
		} else {
			log.Info("email service ready", zap.String("provider", cfg.Email.Provider))
		}
		cancel()
	}

	auth := services.NewAuthService(store.NewGormStore(db), notifier, log, services.AuthOptions{
		JWTSecret:      cfg.JWTSecret,
		SessionTTL:     cfg.SessionTTL,
		OTPTTL:         cfg.OTPTTL,
		OTPMaxAttempts: cfg.OTPMaxAttempts,
		BcryptCost:     cfg.BcryptCost,
	})

	if cfg.RateLimitEnabled() {
		client := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer client.Close()
		auth.WithLimiter(ratelimit.NewOTPLimiter(client, cfg.OTPRequestWindow, cfg.OTPRequestMax, cfg.OTPRequestCooldown))
		log.Info("otp request limiting enabled", zap.String("redis", cfg.RedisAddr))
	}

	app := fiber.New(fiber.Config{
		AppName:      "Bus Ticket Auth",
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, db, auth)

	log.Info("starting server", zap.String("port", cfg.AppPort))
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatal("fiber.Listen error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zcfg.Level = level
	}

	log, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}
