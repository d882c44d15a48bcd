package agent

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/config"
)

// Challenge is the wire form of one published challenge.
type Challenge struct {
	Token         string `json:"token"`
	Authorization string `json:"authorization"`
}

// Metadata is returned on the metadata endpoint and consumed by the
// manager's health checker.
type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server is the agent's HTTP surface: the public well-known challenge path
// plus the authenticated management API the manager drives.
type Server struct {
	cfg   *config.AgentConfig
	store *ChallengeStore
}

// NewServer creates a Server around a challenge store.
func NewServer(cfg *config.AgentConfig, store *ChallengeStore) *Server {
	return &Server{cfg: cfg, store: store}
}

// Router builds the echo instance with all agent routes.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	// The well-known path is what the ACME provider fetches. No auth.
	e.GET("/.well-known/acme-challenge/:token", s.handleWellKnown)

	v1 := e.Group("/v1", s.apiKeyMiddleware)
	v1.PUT("/challenges", s.handlePutChallenge)
	v1.GET("/challenges/:token", s.handleGetChallenge)
	v1.DELETE("/challenges", s.handleDeleteChallenge)
	v1.GET("/agent/metadata", s.handleMetadata)

	return e
}

// apiKeyMiddleware guards the management API with the shared secret issued
// by the manager.
func (s *Server) apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get(auth.HeaderAPIKey)
		if key == "" || !auth.ConstantTimeEquals(key, s.cfg.Token) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		return next(c)
	}
}

func (s *Server) handleWellKnown(c echo.Context) error {
	token := c.Param("token")
	keyAuth, ok := s.store.Get(token)
	if !ok {
		logger.Debug("Unknown challenge token requested", zap.String("token", token))
		return echo.NewHTTPError(http.StatusNotFound, "unknown token")
	}
	logger.Info("Served challenge response", zap.String("token", token))
	return c.String(http.StatusOK, keyAuth)
}

func (s *Server) handlePutChallenge(c echo.Context) error {
	var ch Challenge
	if err := c.Bind(&ch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if ch.Token == "" || ch.Authorization == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token and authorization are required")
	}
	s.store.Put(ch.Token, ch.Authorization)
	logger.Info("Challenge published", zap.String("token", ch.Token))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetChallenge(c echo.Context) error {
	token := c.Param("token")
	keyAuth, ok := s.store.Get(token)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown token")
	}
	return c.JSON(http.StatusOK, Challenge{Token: token, Authorization: keyAuth})
}

func (s *Server) handleDeleteChallenge(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	if !s.store.Delete(token) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown token")
	}
	logger.Info("Challenge withdrawn", zap.String("token", token))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, Metadata{Name: s.cfg.Name, Version: Version})
}
