package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/storage"
)

type agentMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HealthChecker periodically probes every registered agent's metadata
// endpoint and keeps the stored connectivity flag equal to the last probe
// result. The propagator refuses domains whose agent is disconnected.
type HealthChecker struct {
	store    storage.Storage
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
}

// NewHealthChecker creates a checker with the given probe interval and
// per-probe timeout.
func NewHealthChecker(store storage.Storage, interval, timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		store:    store,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		timeout:  timeout,
	}
}

// Run probes all agents immediately and then on every tick until the context
// is cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	logger.Info("Agent health checker started", zap.Duration("interval", h.interval))
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Agent health checker stopped")
			return
		case <-ticker.C:
			h.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered agent once and persists connectivity
// flips.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	for page := 0; ; page++ {
		agents, total, err := h.store.ListAgents(ctx, storage.Filter{Page: page, Size: 100})
		if err != nil {
			logger.Error("Failed to list agents for health check", zap.Error(err))
			return
		}
		for _, agent := range agents {
			connected := h.probe(ctx, agent)
			if connected != agent.Connected {
				logger.Info("Agent connectivity changed",
					zap.String("agent", agent.Name), zap.Bool("connected", connected))
				if err := h.store.UpdateAgentConnectivity(ctx, agent.ID, connected); err != nil {
					logger.Error("Failed to update agent connectivity", zap.String("agent", agent.Name), zap.Error(err))
				}
			}
		}
		if int64((page+1)*100) >= total || len(agents) == 0 {
			return
		}
	}
}

// probe reports whether the agent answered its metadata endpoint in time.
func (h *HealthChecker) probe(ctx context.Context, agent *model.Agent) bool {
	if agent.URL == "" {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, agent.URL+"/v1/agent/metadata", nil)
	if err != nil {
		return false
	}
	req.Header.Set(auth.HeaderAPIKey, agent.Token)

	resp, err := h.client.Do(req)
	if err != nil {
		logger.Debug("Agent probe failed", zap.String("agent", agent.Name), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var md agentMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return false
	}
	return true
}
