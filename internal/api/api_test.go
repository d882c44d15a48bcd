package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codebuckets/acmemanager/internal/acme"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/config"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/server"
	"github.com/codebuckets/acmemanager/internal/storage"
)

// fakeStore backs the handlers with in-memory maps.
type fakeStore struct {
	storage.Storage
	accounts map[int64]*model.Account
	certs    map[string]*model.Certificate
	agents   map[int64]*model.Agent
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[int64]*model.Account),
		certs:    make(map[string]*model.Certificate),
		agents:   make(map[int64]*model.Agent),
	}
}

func (s *fakeStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.accounts[id], nil
}

func (s *fakeStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	for _, acc := range s.accounts {
		if acc.Email == email {
			return acc, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) SaveAccount(ctx context.Context, acc *model.Account) error {
	if acc.ID == 0 {
		s.nextID++
		acc.ID = s.nextID
	}
	s.accounts[acc.ID] = acc
	return nil
}

func (s *fakeStore) GetCertificateByOrderID(ctx context.Context, orderID string) (*model.Certificate, error) {
	return s.certs[orderID], nil
}

func (s *fakeStore) ListCertificates(ctx context.Context, f storage.Filter) ([]*model.Certificate, int64, error) {
	want := f.Filters["accountId"]
	var out []*model.Certificate
	for _, cert := range s.certs {
		if fmt.Sprintf("%d", cert.AccountID) == want {
			out = append(out, cert)
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) AddAgent(ctx context.Context, agent *model.Agent) error {
	for _, a := range s.agents {
		if a.Name == agent.Name {
			return fmt.Errorf("storage: agent '%s' already exists", agent.Name)
		}
	}
	s.nextID++
	agent.ID = s.nextID
	s.agents[agent.ID] = agent
	return nil
}

func (s *fakeStore) SaveAgent(ctx context.Context, agent *model.Agent) error {
	s.agents[agent.ID] = agent
	return nil
}

func (s *fakeStore) DeleteAgent(ctx context.Context, id int64) error {
	delete(s.agents, id)
	return nil
}

func (s *fakeStore) ListAgents(ctx context.Context, f storage.Filter) ([]*model.Agent, int64, error) {
	var out []*model.Agent
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) GetAgentByToken(ctx context.Context, token string) (*model.Agent, error) {
	for _, a := range s.agents {
		if a.Token == token {
			return a, nil
		}
	}
	return nil, nil
}

// fakeEngine answers orchestration calls without a provider.
type fakeEngine struct {
	createAccountFunc func(ctx context.Context, provider model.Provider, email string) (*model.Account, error)
	loginFunc         func(ctx context.Context, acc *model.Account) error
	placeOrderFunc    func(ctx context.Context, owner *model.Account, req acme.PlaceOrderRequest) (*model.Certificate, error)
	executeOrderFunc  func(ctx context.Context, owner *model.Account, cert *model.Certificate) (map[string]acme.ExecuteResult, error)
}

func (e *fakeEngine) CreateAccount(ctx context.Context, provider model.Provider, email string) (*model.Account, error) {
	return e.createAccountFunc(ctx, provider, email)
}

func (e *fakeEngine) Login(ctx context.Context, acc *model.Account) error {
	if e.loginFunc == nil {
		return nil
	}
	return e.loginFunc(ctx, acc)
}

func (e *fakeEngine) PlaceOrder(ctx context.Context, owner *model.Account, req acme.PlaceOrderRequest) (*model.Certificate, error) {
	return e.placeOrderFunc(ctx, owner, req)
}

func (e *fakeEngine) ExecuteOrder(ctx context.Context, owner *model.Account, cert *model.Certificate) (map[string]acme.ExecuteResult, error) {
	return e.executeOrderFunc(ctx, owner, cert)
}

type fixture struct {
	router *echo.Echo
	store  *fakeStore
	engine *fakeEngine
	jwt    *auth.JWTService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	engine := &fakeEngine{}
	jwtSvc := auth.NewJWTService("test-secret")

	e := echo.New()
	server.ApplyCommonMiddleware(e, server.Dependencies{
		Store:  store,
		Config: &config.Config{},
		JWT:    jwtSvc,
		Engine: engine,
		Logger: zaptest.NewLogger(t),
	})
	server.SetupRouter(e)

	return &fixture{router: e, store: store, engine: engine, jwt: jwtSvc}
}

func (fx *fixture) seedAccount(t *testing.T, email string) (*model.Account, string) {
	t.Helper()
	acc := &model.Account{Email: email, AccountID: "ACCT", AccountLocation: "https://example.org/acct/1"}
	require.NoError(t, fx.store.SaveAccount(context.Background(), acc))
	token, err := fx.jwt.IssueAccountToken(acc)
	require.NoError(t, err)
	return acc, token
}

func (fx *fixture) do(method, path, body, bearer string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestAccountCreate(t *testing.T) {
	fx := newFixture(t)
	fx.engine.createAccountFunc = func(ctx context.Context, provider model.Provider, email string) (*model.Account, error) {
		assert.Equal(t, model.ProviderLetsEncryptStaging, provider)
		return &model.Account{Email: email, AccountID: "NEWACCT"}, nil
	}

	rec := fx.do(http.MethodPost, "/v1/account/create",
		`{"emailAddress":"ops@example.org","acmeProvider":"LETS_ENCRYPT_STAGING"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var acc model.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, "NEWACCT", acc.AccountID)
	assert.NotZero(t, acc.ID)
}

func TestAccountCreateConflict(t *testing.T) {
	fx := newFixture(t)
	fx.seedAccount(t, "ops@example.org")

	rec := fx.do(http.MethodPost, "/v1/account/create",
		`{"emailAddress":"ops@example.org","acmeProvider":"LETS_ENCRYPT_STAGING"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAccountCreateRejectsBadProvider(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodPost, "/v1/account/create",
		`{"emailAddress":"ops@example.org","acmeProvider":"BOGUS"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountLoginIssuesToken(t *testing.T) {
	fx := newFixture(t)
	fx.seedAccount(t, "ops@example.org")

	rec := fx.do(http.MethodPost, "/v1/account/login", `{"emailAddress":"ops@example.org"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token   string         `json:"token"`
		Account *model.Account `json:"account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	id, err := fx.jwt.VerifyAccountToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Account.ID, id)
}

func TestAccountLoginUnknownEmail(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodPost, "/v1/account/login", `{"emailAddress":"nobody@example.org"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountLoginIntegrityFailure(t *testing.T) {
	fx := newFixture(t)
	fx.seedAccount(t, "ops@example.org")
	fx.engine.loginFunc = func(ctx context.Context, acc *model.Account) error {
		return fmt.Errorf("%w: mismatch", acme.ErrIntegrity)
	}

	rec := fx.do(http.MethodPost, "/v1/account/login", `{"emailAddress":"ops@example.org"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlaceOrderRequiresAccount(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(http.MethodPost, "/v1/acme/place-order", `{"domains":["example.com"]}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlaceOrder(t *testing.T) {
	fx := newFixture(t)
	acc, token := fx.seedAccount(t, "ops@example.org")
	fx.engine.placeOrderFunc = func(ctx context.Context, owner *model.Account, req acme.PlaceOrderRequest) (*model.Certificate, error) {
		assert.Equal(t, acc.ID, owner.ID)
		assert.Equal(t, []string{"example.com"}, req.Domains)
		return &model.Certificate{OrderID: "ORDER1", Domains: req.Domains, AccountID: owner.ID}, nil
	}

	rec := fx.do(http.MethodPost, "/v1/acme/place-order",
		`{"domains":["example.com"],"acmeProvider":"LETS_ENCRYPT_STAGING","challengeType":"http-01"}`, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var cert model.Certificate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cert))
	assert.Equal(t, "ORDER1", cert.OrderID)
}

func TestPlaceOrderUnsupportedChallenge(t *testing.T) {
	fx := newFixture(t)
	_, token := fx.seedAccount(t, "ops@example.org")
	fx.engine.placeOrderFunc = func(ctx context.Context, owner *model.Account, req acme.PlaceOrderRequest) (*model.Certificate, error) {
		return nil, fmt.Errorf("%w: 'dns-01'", acme.ErrUnsupportedChallenge)
	}

	rec := fx.do(http.MethodPost, "/v1/acme/place-order",
		`{"domains":["example.com"],"acmeProvider":"LETS_ENCRYPT_STAGING","challengeType":"dns-01"}`, token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecuteOrder(t *testing.T) {
	fx := newFixture(t)
	acc, token := fx.seedAccount(t, "ops@example.org")
	fx.store.certs["ORDER1"] = &model.Certificate{OrderID: "ORDER1", AccountID: acc.ID, Domains: []string{"example.com"}}
	fx.engine.executeOrderFunc = func(ctx context.Context, owner *model.Account, cert *model.Certificate) (map[string]acme.ExecuteResult, error) {
		return map[string]acme.ExecuteResult{"example.com": {Success: true}}, nil
	}

	rec := fx.do(http.MethodPatch, "/v1/acme/execute-order?orderId=ORDER1", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results map[string]acme.ExecuteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.True(t, results["example.com"].Success)
}

func TestExecuteOrderUnknownOrOtherOwner(t *testing.T) {
	fx := newFixture(t)
	_, token := fx.seedAccount(t, "ops@example.org")
	fx.store.certs["THEIRS"] = &model.Certificate{OrderID: "THEIRS", AccountID: 999}

	rec := fx.do(http.MethodPatch, "/v1/acme/execute-order?orderId=MISSING", "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fx.do(http.MethodPatch, "/v1/acme/execute-order?orderId=THEIRS", "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteOrderPartialFailureStillReturnsOutcomes(t *testing.T) {
	fx := newFixture(t)
	acc, token := fx.seedAccount(t, "ops@example.org")
	fx.store.certs["ORDER1"] = &model.Certificate{OrderID: "ORDER1", AccountID: acc.ID}
	fx.engine.executeOrderFunc = func(ctx context.Context, owner *model.Account, cert *model.Certificate) (map[string]acme.ExecuteResult, error) {
		return map[string]acme.ExecuteResult{
			"example.com": {Success: false, Message: "polling timed out"},
		}, acme.ErrTimeout
	}

	rec := fx.do(http.MethodPatch, "/v1/acme/execute-order?orderId=ORDER1", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var results map[string]acme.ExecuteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.False(t, results["example.com"].Success)
}

func TestGetCertificatesScopedToAccount(t *testing.T) {
	fx := newFixture(t)
	acc, token := fx.seedAccount(t, "ops@example.org")
	fx.store.certs["MINE"] = &model.Certificate{OrderID: "MINE", AccountID: acc.ID}
	fx.store.certs["THEIRS"] = &model.Certificate{OrderID: "THEIRS", AccountID: 999}

	rec := fx.do(http.MethodPost, "/v1/certificate/get", `{"page":0,"size":20}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Items []*model.Certificate `json:"items"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "MINE", resp.Items[0].OrderID)
	assert.Equal(t, int64(1), resp.Total)
}

func TestAgentAddReturnsToken(t *testing.T) {
	fx := newFixture(t)
	_, token := fx.seedAccount(t, "ops@example.org")

	rec := fx.do(http.MethodPost, "/v1/agent/add", `{"name":"edge-1","domains":["app.example.com"]}`, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID    int64  `json:"id"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotZero(t, resp.ID)
	assert.NotEmpty(t, resp.Token)

	rec = fx.do(http.MethodPost, "/v1/agent/add", `{"name":"edge-1"}`, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAgentRegisterAndDeregister(t *testing.T) {
	fx := newFixture(t)
	agent := &model.Agent{ID: 5, Name: "edge-1", Token: "agent-token"}
	fx.store.agents[5] = agent

	req := httptest.NewRequest(http.MethodPut, "/v1/agent/register",
		strings.NewReader(`{"url":"https://edge-1:8889","domains":["app.example.com"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAPIKey, "agent-token")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, "https://edge-1:8889", agent.URL)
	assert.True(t, agent.Connected)
	assert.Equal(t, []string{"app.example.com"}, agent.Domains)

	req = httptest.NewRequest(http.MethodDelete, "/v1/agent/deregister", nil)
	req.Header.Set(auth.HeaderAPIKey, "agent-token")
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, fx.store.agents, int64(5))
}

func TestAgentRegisterRequiresAgentIdentity(t *testing.T) {
	fx := newFixture(t)
	_, token := fx.seedAccount(t, "ops@example.org")

	rec := fx.do(http.MethodPut, "/v1/agent/register", `{"url":"https://x"}`, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCloudflareUnconfigured(t *testing.T) {
	fx := newFixture(t)
	_, token := fx.seedAccount(t, "ops@example.org")

	rec := fx.do(http.MethodGet, "/v1/cloudflare-dns/zones", "", token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
