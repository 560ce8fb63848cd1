package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"review-api/internal/auth"
	"review-api/internal/config"
	apphttp "review-api/internal/http"
	"review-api/internal/notify"
	"review-api/internal/repository"
	"review-api/internal/repository/memory"
	"review-api/internal/repository/sqlite"
	"review-api/internal/service"
	"review-api/internal/validation"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, closeStore, err := buildUserRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup user store: %v", err)
	}
	defer closeStore()

	revocations := memory.NewRevocationRegistry()
	go memory.RunSweeper(ctx, revocations, cfg.Auth.RevocationSweepInterval, logger)

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	}, revocations)
	if err != nil {
		logger.Fatalf("setup token issuer: %v", err)
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Fatalf("setup notifier: %v", err)
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Workers:   cfg.Mail.Workers,
		QueueSize: cfg.Mail.Queue,
		Logger:    logger,
	}, notifier)
	// queued mail keeps draining after the shutdown signal
	dispatcher.Start(context.WithoutCancel(ctx))

	authService, err := service.NewAuthService(service.Dependencies{
		Users:       users,
		Revocations: revocations,
		Hasher:      auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:      tokens,
		Validator: validation.New(validation.PasswordPolicy{
			MinLength:     cfg.Auth.PasswordMinLength,
			RequireDigit:  cfg.Auth.PasswordRequireDigit,
			RequireLetter: cfg.Auth.PasswordRequireLetter,
		}),
		Notifications:       dispatcher,
		ResetPasswordLength: cfg.Auth.ResetPasswordLength,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatalf("setup auth service: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(authService, cfg.Server.PathPrefix, apphttp.RateLimitConfig{
		Enabled:   cfg.RateLimit.Enabled,
		PerSecond: cfg.RateLimit.PerSecond,
		Burst:     cfg.RateLimit.Burst,
	}, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	dispatcher.Shutdown()

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func buildUserRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (repository.UserRepository, func(), error) {
	if cfg.Store.Driver != "sqlite" {
		logger.Info("using in-memory user store, users are lost on restart")
		return memory.NewUserRepository(), func() {}, nil
	}

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	users := sqlite.NewUserRepository(db)
	if err := users.Init(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init user repository: %w", err)
	}
	logger.Infof("using sqlite user store at %s", cfg.Store.Path)
	return users, func() { db.Close() }, nil
}

func buildNotifier(cfg config.Config, logger *logrus.Logger) (notify.Notifier, error) {
	if cfg.Mail.Host == "" {
		logger.Warn("mail host not configured, reset passwords are only logged")
		return notify.LogNotifier{Logger: logger}, nil
	}
	n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Timeout:  cfg.Mail.Timeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("sending mail through %s:%d", cfg.Mail.Host, cfg.Mail.Port)
	return n, nil
}
