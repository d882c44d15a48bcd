package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/model"
)

type challengePayload struct {
	Token         string `json:"token"`
	Authorization string `json:"authorization"`
}

// HTTPPropagator pushes challenge responses to agents over their management
// API, authenticating with each agent's issued token.
type HTTPPropagator struct {
	client *http.Client
}

// NewHTTPPropagator creates a propagator with a bounded request timeout.
func NewHTTPPropagator() *HTTPPropagator {
	return &HTTPPropagator{client: &http.Client{Timeout: 15 * time.Second}}
}

// Publish installs a challenge response on the agent.
func (p *HTTPPropagator) Publish(ctx context.Context, agent *model.Agent, token string, keyAuth string) error {
	body, err := json.Marshal(challengePayload{Token: token, Authorization: keyAuth})
	if err != nil {
		return fmt.Errorf("agents: failed to encode challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, agent.URL+"/v1/challenges", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agents: failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAPIKey, agent.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("agents: publish to agent '%s' failed: %w", agent.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("agents: agent '%s' rejected challenge publish with status %d", agent.Name, resp.StatusCode)
	}

	logger.Info("Challenge published to agent", zap.String("agent", agent.Name), zap.String("token", token))
	return nil
}

// Withdraw removes a challenge response from the agent. A 404 means the
// challenge is already gone and counts as success.
func (p *HTTPPropagator) Withdraw(ctx context.Context, agent *model.Agent, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		agent.URL+"/v1/challenges?token="+url.QueryEscape(token), nil)
	if err != nil {
		return fmt.Errorf("agents: failed to build withdraw request: %w", err)
	}
	req.Header.Set(auth.HeaderAPIKey, agent.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("agents: withdraw from agent '%s' failed: %w", agent.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("agents: agent '%s' rejected challenge withdrawal with status %d", agent.Name, resp.StatusCode)
	}

	logger.Info("Challenge withdrawn from agent", zap.String("agent", agent.Name), zap.String("token", token))
	return nil
}
