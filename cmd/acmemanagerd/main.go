package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codebuckets/acmemanager/internal/agents"
	"github.com/codebuckets/acmemanager/internal/api"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/config"
	"github.com/codebuckets/acmemanager/internal/dns"
	"github.com/codebuckets/acmemanager/internal/server"
	"github.com/codebuckets/acmemanager/internal/storage"
	"github.com/codebuckets/acmemanager/internal/worker"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l.With(zap.String("package", "main"))
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("ACME Manager starting...", zap.String("address", cfg.ListenAddress))

	store, err := storage.NewPostgreSQLStorage(
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("storage initialized")

	for _, dir := range []string{cfg.DataDir, cfg.CertDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				logger.Fatal("failed to create directory", zap.Error(err), zap.String("dir", dir))
			}
			logger.Info("created directory", zap.String("dir", dir))
		}
	}

	jwtSvc := auth.NewJWTService(cfg.JWTSecret)
	pool := worker.NewPool(cfg.MaxConcurrentOrders)
	directory := agents.NewDirectory(store)
	propagator := agents.NewHTTPPropagator()
	engine := api.NewEngine(store, directory, propagator, pool, cfg.CertDir)

	var cloudflare *dns.CloudflareService
	if cfg.CloudflareAPIToken != "" {
		cloudflare, err = dns.NewCloudflareService(cfg.CloudflareAPIToken)
		if err != nil {
			logger.Fatal("failed to initialize cloudflare facade", zap.Error(err))
		}
		logger.Info("cloudflare facade enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := agents.NewHealthChecker(store,
		time.Duration(cfg.HealthCheckSeconds)*time.Second,
		time.Duration(cfg.HealthTimeoutSeconds)*time.Second,
	)
	go checker.Run(ctx)

	e := echo.New()
	server.ApplyCommonMiddleware(e, server.Dependencies{
		Store:      store,
		Config:     cfg,
		JWT:        jwtSvc,
		Engine:     engine,
		Cloudflare: cloudflare,
		Logger:     logger,
	})
	server.SetupRouter(e)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", zap.Error(err))
		}
	}()

	if cfg.HTTPSCertFile != "" || cfg.HTTPSKeyFile != "" {
		certFile, keyFile, err := server.EnsureHTTPSCertificates(cfg)
		if err != nil {
			logger.Fatal("failed to ensure HTTPS certificates", zap.Error(err))
		}
		logger.Info("listening with TLS", zap.String("address", cfg.ListenAddress))
		err = e.StartTLS(cfg.ListenAddress, certFile, keyFile)
		if err != nil {
			logger.Info("server stopped", zap.Error(err))
		}
		return
	}

	logger.Info("listening", zap.String("address", cfg.ListenAddress))
	if err := e.Start(cfg.ListenAddress); err != nil {
		logger.Info("server stopped", zap.Error(err))
	}
}
