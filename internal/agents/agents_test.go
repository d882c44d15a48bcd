package agents_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuckets/acmemanager/internal/agents"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/storage"
)

func TestPropagatorPublish(t *testing.T) {
	var gotMethod, gotPath, gotKey string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get(auth.HeaderAPIKey)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	agent := &model.Agent{Name: "edge-1", Token: "tok-secret", URL: srv.URL}
	prop := agents.NewHTTPPropagator()

	err := prop.Publish(context.Background(), agent, "challenge-token", "challenge-token.keyauth")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v1/challenges", gotPath)
	assert.Equal(t, "tok-secret", gotKey)
	assert.Equal(t, "challenge-token", gotBody["token"])
	assert.Equal(t, "challenge-token.keyauth", gotBody["authorization"])
}

func TestPropagatorPublishRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	prop := agents.NewHTTPPropagator()
	err := prop.Publish(context.Background(), &model.Agent{Name: "edge-1", URL: srv.URL}, "t", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestPropagatorWithdraw(t *testing.T) {
	var gotMethod, gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("token")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	prop := agents.NewHTTPPropagator()
	err := prop.Withdraw(context.Background(), &model.Agent{Name: "edge-1", URL: srv.URL}, "challenge-token")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/challenges", gotPath)
	assert.Equal(t, "challenge-token", gotToken)
}

func TestPropagatorWithdrawNotFoundIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	prop := agents.NewHTTPPropagator()
	err := prop.Withdraw(context.Background(), &model.Agent{Name: "edge-1", URL: srv.URL}, "gone")
	assert.NoError(t, err)
}

// healthStore fakes the two storage calls the health checker makes.
type healthStore struct {
	storage.Storage
	agents  []*model.Agent
	updates map[int64]bool
}

func (s *healthStore) ListAgents(ctx context.Context, f storage.Filter) ([]*model.Agent, int64, error) {
	if f.Page > 0 {
		return nil, int64(len(s.agents)), nil
	}
	return s.agents, int64(len(s.agents)), nil
}

func (s *healthStore) UpdateAgentConnectivity(ctx context.Context, id int64, connected bool) error {
	if s.updates == nil {
		s.updates = make(map[int64]bool)
	}
	s.updates[id] = connected
	return nil
}

func TestHealthCheckerFlipsConnectivity(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agent/metadata", r.URL.Path)
		assert.Equal(t, "tok-up", r.Header.Get(auth.HeaderAPIKey))
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "edge-up", "version": "0.1.0"})
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broken.Close()

	store := &healthStore{agents: []*model.Agent{
		{ID: 1, Name: "edge-up", Token: "tok-up", URL: healthy.URL, Connected: false},
		{ID: 2, Name: "edge-down", Token: "tok-down", URL: broken.URL, Connected: true},
		{ID: 3, Name: "edge-stable", Token: "tok-stable", URL: healthy.URL, Connected: true},
		{ID: 4, Name: "edge-unreachable", Token: "tok-un", URL: "", Connected: false},
	}}

	checker := agents.NewHealthChecker(store, time.Minute, 2*time.Second)
	checker.CheckAll(context.Background())

	// Only flips are persisted.
	assert.Equal(t, map[int64]bool{1: true, 2: false}, store.updates)
}

func TestDirectoryDelegatesToStorage(t *testing.T) {
	agent := &model.Agent{ID: 1, Name: "edge-1", Domains: []string{"app.example.com"}}
	store := &directoryStore{agent: agent}
	dir := agents.NewDirectory(store)

	got, err := dir.AgentForDomain(context.Background(), "app.example.com")
	require.NoError(t, err)
	assert.Equal(t, agent, got)

	missing, err := dir.AgentForDomain(context.Background(), "other.example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

type directoryStore struct {
	storage.Storage
	agent *model.Agent
}

func (s *directoryStore) AgentForDomain(ctx context.Context, domain string) (*model.Agent, error) {
	if s.agent.FrontsDomain(domain) {
		return s.agent, nil
	}
	return nil, nil
}
