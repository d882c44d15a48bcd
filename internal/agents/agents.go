// Package agents is the manager's view of the deployed agent fleet: domain
// routing, challenge propagation over the agents' HTTP API and background
// health checking.
package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "agents"))
}

// Directory resolves the agent fronting a domain from storage.
type Directory struct {
	store storage.Storage
}

// NewDirectory creates a Directory backed by the given storage.
func NewDirectory(store storage.Storage) *Directory {
	return &Directory{store: store}
}

// AgentForDomain returns the agent bound to the domain, or nil when the
// domain is unbound.
func (d *Directory) AgentForDomain(ctx context.Context, domain string) (*model.Agent, error) {
	return d.store.AgentForDomain(ctx, domain)
}
