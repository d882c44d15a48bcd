package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/storage"
)

type addAgentRequest struct {
	Name    string   `json:"name"`
	Domains []string `json:"domains,omitempty"`
}

// addAgentResponse is the only place the token is ever returned; the model
// hides it from JSON everywhere else.
type addAgentResponse struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Token   string   `json:"token"`
	Domains []string `json:"domains,omitempty"`
}

type registerAgentRequest struct {
	URL     string   `json:"url"`
	Domains []string `json:"domains"`
}

// HandleAgentAdd creates an agent registration with a server-generated
// token. The token is handed to the agent process out of band.
func HandleAgentAdd(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	reqLogger := handlerLogger(c, "HandleAgentAdd")
	ctx := c.Request().Context()

	var req addAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Agent name cannot be empty")
	}

	agent := &model.Agent{
		Name:    name,
		Token:   uuid.NewString(),
		Domains: req.Domains,
	}
	if err := store.AddAgent(ctx, agent); err != nil {
		reqLogger.Error("Failed to add agent", zap.String("name", name), zap.Error(err))
		if strings.Contains(err.Error(), "already exists") {
			return echo.NewHTTPError(http.StatusConflict, "Agent with this name already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to add agent")
	}

	reqLogger.Info("Agent added", zap.String("name", name), zap.Int64("id", agent.ID))
	return c.JSON(http.StatusCreated, addAgentResponse{
		ID:      agent.ID,
		Name:    agent.Name,
		Token:   agent.Token,
		Domains: agent.Domains,
	})
}

// HandleAgentRegister is the agent calling home: it updates the stored URL
// and fronted domains and marks the agent connected.
func HandleAgentRegister(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	reqLogger := handlerLogger(c, "HandleAgentRegister")
	ctx := c.Request().Context()
	agent := auth.FromContext(c).Agent

	var req registerAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Agent URL cannot be empty")
	}

	agent.URL = req.URL
	if len(req.Domains) > 0 {
		agent.Domains = req.Domains
	}
	agent.Connected = true

	if err := store.SaveAgent(ctx, agent); err != nil {
		reqLogger.Error("Failed to save agent registration", zap.String("name", agent.Name), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to register agent")
	}

	reqLogger.Info("Agent registered",
		zap.String("name", agent.Name), zap.String("url", agent.URL), zap.Strings("domains", agent.Domains))
	return c.NoContent(http.StatusNoContent)
}

// HandleAgentDeregister removes the calling agent's registration.
func HandleAgentDeregister(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	reqLogger := handlerLogger(c, "HandleAgentDeregister")
	ctx := c.Request().Context()
	agent := auth.FromContext(c).Agent

	if err := store.DeleteAgent(ctx, agent.ID); err != nil {
		reqLogger.Error("Failed to deregister agent", zap.String("name", agent.Name), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to deregister agent")
	}

	reqLogger.Info("Agent deregistered", zap.String("name", agent.Name))
	return c.NoContent(http.StatusNoContent)
}

// HandleAgentGet lists agents through the filter/pagination envelope.
func HandleAgentGet(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	reqLogger := handlerLogger(c, "HandleAgentGet")
	ctx := c.Request().Context()

	var f storage.Filter
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	agents, total, err := store.ListAgents(ctx, f)
	if err != nil {
		reqLogger.Error("Failed to list agents", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, PagedResponse{Items: agents, Page: f.Page, Size: f.Size, Total: total})
}
