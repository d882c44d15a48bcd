package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/config"
)

// Registration is the payload an agent sends when calling home.
type Registration struct {
	URL     string   `json:"url"`
	Domains []string `json:"domains"`
}

// Registrar calls the manager's agent API to announce this agent on startup
// and remove it on shutdown. The agent authenticates with its issued token.
type Registrar struct {
	cfg    *config.AgentConfig
	client *http.Client
}

// NewRegistrar creates a Registrar for the configured manager.
func NewRegistrar(cfg *config.AgentConfig) *Registrar {
	return &Registrar{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Register announces this agent's URL and fronted domains to the manager.
func (r *Registrar) Register(ctx context.Context) error {
	body, err := json.Marshal(Registration{URL: r.cfg.PublicURL, Domains: r.cfg.Domains})
	if err != nil {
		return fmt.Errorf("agent: failed to encode registration: %w", err)
	}
	if err := r.call(ctx, http.MethodPut, "/v1/agent/register", bytes.NewReader(body)); err != nil {
		return err
	}
	logger.Info("Registered with manager",
		zap.String("manager", r.cfg.ManagerURL),
		zap.String("url", r.cfg.PublicURL),
		zap.Strings("domains", r.cfg.Domains),
	)
	return nil
}

// Deregister removes this agent's registration from the manager.
func (r *Registrar) Deregister(ctx context.Context) error {
	if err := r.call(ctx, http.MethodDelete, "/v1/agent/deregister", nil); err != nil {
		return err
	}
	logger.Info("Deregistered from manager", zap.String("manager", r.cfg.ManagerURL))
	return nil
}

func (r *Registrar) call(ctx context.Context, method, path string, body *bytes.Reader) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, r.cfg.ManagerURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, r.cfg.ManagerURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("agent: failed to build %s request: %w", method, err)
	}
	req.Header.Set(auth.HeaderAPIKey, r.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent: manager call %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("agent: manager call %s %s returned status %d", method, path, resp.StatusCode)
	}
	return nil
}
