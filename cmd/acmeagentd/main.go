package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codebuckets/acmemanager/internal/agent"
	"github.com/codebuckets/acmemanager/internal/config"
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
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Token == "" {
		logger.Fatal("AGENT_TOKEN is required; add the agent on the manager first")
	}
	logger.Info("ACME Agent starting...",
		zap.String("name", cfg.Name),
		zap.String("address", cfg.ListenAddress),
		zap.Strings("domains", cfg.Domains),
	)

	store := agent.NewChallengeStore()
	srv := agent.NewServer(cfg, store)
	registrar := agent.NewRegistrar(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := srv.Router()
	go func() {
		if err := e.Start(cfg.ListenAddress); err != nil {
			logger.Info("server stopped", zap.Error(err))
		}
	}()

	registerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := registrar.Register(registerCtx); err != nil {
		logger.Error("failed to register with manager; continuing to serve", zap.Error(err))
	}
	cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// The parent context is already cancelled at this point.
	deregisterCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := registrar.Deregister(deregisterCtx); err != nil {
		logger.Error("failed to deregister from manager", zap.Error(err))
	}
	cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down server", zap.Error(err))
	}
}
