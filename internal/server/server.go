// Package server assembles the manager's echo instance: middleware,
// dependency injection and routing.
package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/api"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/config"
	"github.com/codebuckets/acmemanager/internal/dns"
	"github.com/codebuckets/acmemanager/internal/storage"
)

// Dependencies carries everything the handlers need; the injection
// middleware places them in the echo context.
type Dependencies struct {
	Store      storage.Storage
	Config     *config.Config
	JWT        *auth.JWTService
	Engine     api.Engine
	Cloudflare *dns.CloudflareService // nil when no API token is configured
	Logger     *zap.Logger
}

// ApplyCommonMiddleware applies recovery, request IDs, identity resolution
// and dependency injection to an echo instance.
func ApplyCommonMiddleware(e *echo.Echo, deps Dependencies) {
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	// Middleware to set context values
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLogger := deps.Logger.With(zap.String("request_id", reqID))

			c.Set(api.ContextKeyStore, deps.Store)
			c.Set(api.ContextKeyConfig, deps.Config)
			c.Set(api.ContextKeyJWT, deps.JWT)
			c.Set(api.ContextKeyEngine, deps.Engine)
			if deps.Cloudflare != nil {
				c.Set(api.ContextKeyCloudflare, deps.Cloudflare)
			}
			c.Set(api.ContextKeyLogger, reqLogger)
			return next(c)
		}
	})

	e.Use(auth.IdentityMiddleware(deps.JWT, deps.Store))
}

// SetupRouter defines all routes of the manager API.
func SetupRouter(e *echo.Echo) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ACME Manager is running")
	})

	v1 := e.Group("/v1")

	accountGroup := v1.Group("/account")
	accountGroup.POST("/create", api.HandleAccountCreate)
	accountGroup.POST("/login", api.HandleAccountLogin)

	acmeGroup := v1.Group("/acme", auth.RequireAccount)
	acmeGroup.POST("/place-order", api.HandlePlaceOrder)
	acmeGroup.PATCH("/execute-order", api.HandleExecuteOrder)

	certGroup := v1.Group("/certificate", auth.RequireAccount)
	certGroup.POST("/get", api.HandleGetCertificates)

	agentGroup := v1.Group("/agent")
	agentGroup.POST("/add", api.HandleAgentAdd, auth.RequireAccount)
	agentGroup.POST("/get", api.HandleAgentGet, auth.RequireAccount)
	agentGroup.PUT("/register", api.HandleAgentRegister, auth.RequireAgent)
	agentGroup.DELETE("/deregister", api.HandleAgentDeregister, auth.RequireAgent)

	dnsGroup := v1.Group("/cloudflare-dns", auth.RequireAccount)
	dnsGroup.GET("/zones", api.HandleListZones)
	dnsGroup.GET("/zones/:zoneID/records", api.HandleListTXTRecords)
	dnsGroup.POST("/zones/:zoneID/records", api.HandleCreateTXTRecord)
	dnsGroup.DELETE("/zones/:zoneID/records/:recordID", api.HandleDeleteRecord)
}
