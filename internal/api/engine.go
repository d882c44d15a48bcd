package api

import (
	"context"

	"github.com/codebuckets/acmemanager/internal/acme"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/storage"
	"github.com/codebuckets/acmemanager/internal/worker"
)

// Engine is the orchestration surface the handlers drive. Implementations
// talk to the ACME provider; tests swap in a fake.
type Engine interface {
	// CreateAccount registers a new account at the provider.
	CreateAccount(ctx context.Context, provider model.Provider, email string) (*model.Account, error)
	// Login restores the provider session for a stored account and verifies
	// its identity is still the one on record.
	Login(ctx context.Context, acc *model.Account) error
	// PlaceOrder creates an order and its validation requests.
	PlaceOrder(ctx context.Context, owner *model.Account, req acme.PlaceOrderRequest) (*model.Certificate, error)
	// ExecuteOrder solves the order's challenges and finalizes it.
	ExecuteOrder(ctx context.Context, owner *model.Account, cert *model.Certificate) (map[string]acme.ExecuteResult, error)
}

// acmeEngine is the production Engine: real provider sessions, orchestration
// through the shared worker pool.
type acmeEngine struct {
	store storage.Storage
	orch  *acme.Orchestrator
	pool  *worker.Pool
}

// NewEngine wires the orchestrator against storage, the agent directory and
// the challenge propagator. pool bounds concurrent order placements and
// executions.
func NewEngine(store storage.Storage, dir acme.AgentDirectory, prop acme.Propagator, pool *worker.Pool, certDir string) Engine {
	return &acmeEngine{
		store: store,
		orch:  acme.NewOrchestrator(store, dir, prop, certDir),
		pool:  pool,
	}
}

func (e *acmeEngine) CreateAccount(ctx context.Context, provider model.Provider, email string) (*model.Account, error) {
	return acme.CreateAccount(ctx, provider, email)
}

func (e *acmeEngine) Login(ctx context.Context, acc *model.Account) error {
	_, err := acme.RestoreLogin(ctx, acc)
	return err
}

func (e *acmeEngine) PlaceOrder(ctx context.Context, owner *model.Account, req acme.PlaceOrderRequest) (*model.Certificate, error) {
	var cert *model.Certificate
	err := e.pool.Do(ctx, func(ctx context.Context) error {
		login, err := acme.RestoreLogin(ctx, owner)
		if err != nil {
			return err
		}
		cert, err = e.orch.PlaceOrder(ctx, login, owner, req)
		return err
	})
	return cert, err
}

func (e *acmeEngine) ExecuteOrder(ctx context.Context, owner *model.Account, cert *model.Certificate) (map[string]acme.ExecuteResult, error) {
	var results map[string]acme.ExecuteResult
	err := e.pool.Do(ctx, func(ctx context.Context) error {
		login, err := acme.RestoreLogin(ctx, owner)
		if err != nil {
			return err
		}
		results, err = e.orch.ExecuteOrder(ctx, login, cert)
		return err
	})
	return results, err
}
