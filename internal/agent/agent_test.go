package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuckets/acmemanager/internal/agent"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/config"
)

func testServer() (*agent.Server, *agent.ChallengeStore) {
	store := agent.NewChallengeStore()
	cfg := &config.AgentConfig{
		Name:  "edge-1",
		Token: "test-token",
	}
	return agent.NewServer(cfg, store), store
}

func TestChallengeStoreConcurrentAccess(t *testing.T) {
	store := agent.NewChallengeStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Put("tok", "keyauth")
			store.Get("tok")
			store.Delete("tok")
		}()
	}
	wg.Wait()
	assert.Zero(t, store.Len())
}

func TestWellKnownServesPublishedChallenge(t *testing.T) {
	srv, store := testServer()
	store.Put("tok123", "tok123.keyauth")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/tok123", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok123.keyauth", rec.Body.String())
}

func TestWellKnownUnknownToken(t *testing.T) {
	srv, _ := testServer()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/acme-challenge/missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChallengeAPIRequiresKey(t *testing.T) {
	srv, _ := testServer()
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPut, "/v1/challenges", strings.NewReader(`{"token":"t","authorization":"a"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/v1/challenges", strings.NewReader(`{"token":"t","authorization":"a"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAPIKey, "wrong-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChallengePublishFetchWithdraw(t *testing.T) {
	srv, store := testServer()
	router := srv.Router()

	put := httptest.NewRequest(http.MethodPut, "/v1/challenges", strings.NewReader(`{"token":"tok","authorization":"tok.keyauth"}`))
	put.Header.Set("Content-Type", "application/json")
	put.Header.Set(auth.HeaderAPIKey, "test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, store.Len())

	get := httptest.NewRequest(http.MethodGet, "/v1/challenges/tok", nil)
	get.Header.Set(auth.HeaderAPIKey, "test-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	var ch agent.Challenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
	assert.Equal(t, "tok.keyauth", ch.Authorization)

	del := httptest.NewRequest(http.MethodDelete, "/v1/challenges?token=tok", nil)
	del.Header.Set(auth.HeaderAPIKey, "test-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, store.Len())

	rec = httptest.NewRecorder()
	del = httptest.NewRequest(http.MethodDelete, "/v1/challenges?token=tok", nil)
	del.Header.Set(auth.HeaderAPIKey, "test-token")
	router.ServeHTTP(rec, del)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	del = httptest.NewRequest(http.MethodDelete, "/v1/challenges", nil)
	del.Header.Set(auth.HeaderAPIKey, "test-token")
	router.ServeHTTP(rec, del)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChallengePublishRejectsEmptyFields(t *testing.T) {
	srv, _ := testServer()
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPut, "/v1/challenges", strings.NewReader(`{"token":"","authorization":""}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAPIKey, "test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadataEndpoint(t *testing.T) {
	srv, _ := testServer()

	req := httptest.NewRequest(http.MethodGet, "/v1/agent/metadata", nil)
	req.Header.Set(auth.HeaderAPIKey, "test-token")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var md agent.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	assert.Equal(t, "edge-1", md.Name)
	assert.Equal(t, agent.Version, md.Version)
}

func TestRegistrarCallsManager(t *testing.T) {
	var gotMethod, gotPath, gotKey string
	var gotBody agent.Registration
	manager := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get(auth.HeaderAPIKey)
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer manager.Close()

	cfg := &config.AgentConfig{
		Name:       "edge-1",
		Token:      "test-token",
		ManagerURL: manager.URL,
		PublicURL:  "https://edge-1.internal:8889",
		Domains:    []string{"app.example.com"},
	}
	reg := agent.NewRegistrar(cfg)

	require.NoError(t, reg.Register(context.Background()))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v1/agent/register", gotPath)
	assert.Equal(t, "test-token", gotKey)
	assert.Equal(t, "https://edge-1.internal:8889", gotBody.URL)
	assert.Equal(t, []string{"app.example.com"}, gotBody.Domains)

	require.NoError(t, reg.Deregister(context.Background()))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/agent/deregister", gotPath)
}

func TestRegistrarSurfacesManagerFailure(t *testing.T) {
	manager := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer manager.Close()

	reg := agent.NewRegistrar(&config.AgentConfig{ManagerURL: manager.URL, Token: "bad"})
	err := reg.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
