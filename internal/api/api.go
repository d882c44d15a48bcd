// Package api implements the manager's REST surface. Handlers pull their
// dependencies from the echo context; the server package injects them.
package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Context keys the server's injection middleware sets.
const (
	ContextKeyStore      = "store"
	ContextKeyConfig     = "cfg"
	ContextKeyLogger     = "logger"
	ContextKeyJWT        = "jwt"
	ContextKeyEngine     = "engine"
	ContextKeyCloudflare = "cloudflare"
)

// PagedResponse is the envelope every list endpoint returns.
type PagedResponse struct {
	Items any   `json:"items"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

// handlerLogger returns the request-scoped logger tagged with the handler
// name. Falls back to the global logger outside the injection middleware.
func handlerLogger(c echo.Context, handler string) *zap.Logger {
	if l, ok := c.Get(ContextKeyLogger).(*zap.Logger); ok {
		return l.With(zap.String("handler", handler))
	}
	return zap.L().With(zap.String("handler", handler))
}
