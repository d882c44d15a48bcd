package testutils

import (
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/codebuckets/acmemanager/internal/api"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/config"
	"github.com/codebuckets/acmemanager/internal/server"
	"github.com/codebuckets/acmemanager/internal/storage"
)

// SetupTestServer initializes the manager's echo app against the given test
// database (DSN from SetupTestDB). The caller supplies the Engine, usually a
// fake, so no test talks to a real ACME provider. Returns the router, the
// storage and the JWT service for minting session tokens.
func SetupTestServer(t *testing.T, dbConnStr string, engine api.Engine) (*echo.Echo, storage.Storage, *auth.JWTService) {
	t.Helper()

	testLogger := zaptest.NewLogger(t)

	store, err := storage.OpenPostgreSQL(dbConnStr)
	if err != nil {
		t.Fatalf("Failed to initialize storage for test: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load base config for test: %v", err)
	}
	cfg.JWTSecret = "test-secret"
	jwtSvc := auth.NewJWTService(cfg.JWTSecret)

	e := echo.New()
	server.ApplyCommonMiddleware(e, server.Dependencies{
		Store:  store,
		Config: cfg,
		JWT:    jwtSvc,
		Engine: engine,
		Logger: testLogger,
	})
	server.SetupRouter(e)

	return e, store, jwtSvc
}
