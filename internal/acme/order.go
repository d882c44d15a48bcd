package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"

	"github.com/codebuckets/acmemanager/internal/model"
)

// CertificateStore is the persistence surface the orchestrator needs.
// Lookups return nil with a nil error when the row does not exist.
type CertificateStore interface {
	GetCertificateByOrderID(ctx context.Context, orderID string) (*model.Certificate, error)
	SaveCertificate(ctx context.Context, cert *model.Certificate) error
	SaveValidationRequest(ctx context.Context, vr *model.ValidationRequest) error
}

// AgentDirectory resolves the agent fronting a domain. It returns nil with a
// nil error when no agent is bound to the domain.
type AgentDirectory interface {
	AgentForDomain(ctx context.Context, domain string) (*model.Agent, error)
}

// Propagator pushes http-01 challenge responses to agents and withdraws
// them once validation settles.
type Propagator interface {
	Publish(ctx context.Context, agent *model.Agent, token string, keyAuth string) error
	Withdraw(ctx context.Context, agent *model.Agent, token string) error
}

// PlaceOrderRequest describes a new certificate order. An empty
// ChallengeType lets the selector choose per authorization.
type PlaceOrderRequest struct {
	Domains       []string            `json:"domains"`
	SaveKeyPair   bool                `json:"saveKeyPair"`
	Provider      model.Provider      `json:"acmeProvider"`
	ChallengeType model.ChallengeType `json:"challengeType,omitempty"`
}

// ExecuteResult is the per-domain outcome of an order execution.
type ExecuteResult struct {
	Success bool   `json:"isSuccess"`
	Message string `json:"message,omitempty"`
}

// Orchestrator runs the order lifecycle against a provider: placement,
// challenge solving, finalization and key persistence.
type Orchestrator struct {
	store   CertificateStore
	agents  AgentDirectory
	prop    Propagator
	certDir string
}

// NewOrchestrator builds an Orchestrator. certDir is where private keys of
// completed orders are written when the order asks for it.
func NewOrchestrator(store CertificateStore, agents AgentDirectory, prop Propagator, certDir string) *Orchestrator {
	return &Orchestrator{
		store:   store,
		agents:  agents,
		prop:    prop,
		certDir: certDir,
	}
}

// PlaceOrder creates an order at the provider and records one validation
// request per authorization. Placement is idempotent on the order location:
// if the provider returns an already-known location the stored aggregate is
// returned unchanged, without writing new validation requests. Validation
// requests saved before a mid-loop failure are kept.
func (o *Orchestrator) PlaceOrder(ctx context.Context, login *Login, owner *model.Account, req PlaceOrderRequest) (*model.Certificate, error) {
	order, err := login.Client.AuthorizeOrder(ctx, acme.DomainIDs(req.Domains...))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create order: %w", ErrProtocol, err)
	}

	orderID := Fingerprint(order.URI)

	cert, err := o.store.GetCertificateByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		// Re-submission of a known order. The aggregate already carries one
		// validation request per authorization; return it unchanged.
		logger.Info("Certificate already exists for order", zap.String("orderID", orderID))
		return cert, nil
	}

	cert = &model.Certificate{
		OrderID:     orderID,
		OrderURL:    order.URI,
		Domains:     req.Domains,
		SaveKeyPair: req.SaveKeyPair,
		Provider:    req.Provider,
		Status:      model.Status(order.Status),
		AccountID:   owner.ID,
	}
	if err := o.store.SaveCertificate(ctx, cert); err != nil {
		return nil, err
	}

	for _, authzURL := range order.AuthzURLs {
		authz, err := login.Client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to fetch authorization: %w", ErrProtocol, err)
		}

		sel, err := SelectChallenge(login.Client, authz, req.ChallengeType)
		if err != nil {
			return nil, err
		}

		vr := &model.ValidationRequest{
			Domain:                 sel.Domain,
			Status:                 model.Status(order.Status),
			ExpiresAt:              order.Expires,
			OrderURL:               order.URI,
			OrderID:                orderID,
			ChallengeType:          sel.Type,
			ChallengeToken:         sel.Token,
			ChallengeAuthorization: sel.Authorization,
			CertificateID:          cert.ID,
		}
		if err := o.store.SaveValidationRequest(ctx, vr); err != nil {
			return nil, err
		}
		cert.ValidationRequests = append(cert.ValidationRequests, vr)

		logger.Info("Created validation request",
			zap.String("domain", vr.Domain),
			zap.String("orderID", orderID),
			zap.String("challengeType", string(vr.ChallengeType)))
	}

	return cert, nil
}

// ExecuteOrder solves the pending challenges of an order, finalizes it with
// a fresh P-256 domain key and records the terminal status on the
// certificate and its validation requests. The returned map holds one
// outcome per domain. A failed challenge is a per-domain outcome; polling
// exhaustion and cancellation abort the whole call, marking the remaining
// domains with the same error.
func (o *Orchestrator) ExecuteOrder(ctx context.Context, login *Login, cert *model.Certificate) (map[string]ExecuteResult, error) {
	results := make(map[string]ExecuteResult)

	domainKey, err := GenerateKey()
	if err != nil {
		return results, err
	}

	order, err := login.Client.GetOrder(ctx, cert.OrderURL)
	if err != nil {
		return results, fmt.Errorf("%w: failed to fetch order: %w", ErrProtocol, err)
	}

	authzByDomain := make(map[string]*acme.Authorization, len(order.AuthzURLs))
	for _, authzURL := range order.AuthzURLs {
		authz, err := login.Client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return results, fmt.Errorf("%w: failed to fetch authorization: %w", ErrProtocol, err)
		}
		authzByDomain[authz.Identifier.Value] = authz
	}

	for _, vr := range cert.ValidationRequests {
		domain := vr.Domain

		authz, ok := authzByDomain[domain]
		if !ok {
			results[domain] = ExecuteResult{Success: false, Message: "order has no authorization for domain"}
			continue
		}

		if err := o.solveDomain(ctx, login, vr, authz); err != nil {
			results[domain] = ExecuteResult{Success: false, Message: err.Error()}
			if errors.Is(err, ErrTimeout) || errors.Is(err, ErrCancelled) {
				markRemaining(results, cert, err)
				return results, err
			}
			logger.Error("Failed to solve challenge", zap.String("domain", domain), zap.Error(err))
			continue
		}

		results[domain] = ExecuteResult{Success: true}
		logger.Info("Challenge completed", zap.String("domain", domain), zap.String("orderID", cert.OrderID))
	}

	csr, err := certificateRequest(domainKey, cert.Domains)
	if err != nil {
		return results, err
	}

	der, _, err := login.Client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return results, fmt.Errorf("%w: failed to finalize order: %w", ErrProtocol, err)
	}

	status, err := waitForCompletion(ctx, orderUpdater(login.Client, cert.OrderURL))
	if err != nil {
		markRemaining(results, cert, err)
		return results, err
	}

	for _, vr := range cert.ValidationRequests {
		vr.Status = status
		if err := o.store.SaveValidationRequest(ctx, vr); err != nil {
			return results, err
		}
	}

	cert.Status = status
	if status == model.StatusValid {
		cert.CertificatePEM = EncodeChainPEM(der)
	}
	if err := o.store.SaveCertificate(ctx, cert); err != nil {
		return results, err
	}

	logger.Info("Order completed", zap.String("orderID", cert.OrderID), zap.String("status", string(status)))

	if status == model.StatusValid && cert.SaveKeyPair {
		if _, err := WriteOrderKey(o.certDir, cert.OrderID, domainKey); err != nil {
			return results, err
		}
	}

	return results, nil
}

// solveDomain triggers and polls one challenge. For http-01 the response is
// published to the agent fronting the domain first and withdrawn once the
// challenge settles. dns-01 records are published out of band.
func (o *Orchestrator) solveDomain(ctx context.Context, login *Login, vr *model.ValidationRequest, authz *acme.Authorization) error {
	domain := vr.Domain

	if authz.Status == acme.StatusValid {
		logger.Info("Authorization already valid", zap.String("domain", domain))
		return nil
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if model.ChallengeType(c.Type) == vr.ChallengeType {
			chal = c
			break
		}
	}
	if chal == nil {
		return fmt.Errorf("%w: '%s' for domain '%s'", ErrUnsupportedChallenge, vr.ChallengeType, domain)
	}

	if chal.Status == acme.StatusValid {
		logger.Info("Challenge already verified", zap.String("domain", domain), zap.String("type", string(vr.ChallengeType)))
		return nil
	}

	if vr.ChallengeType == model.ChallengeHTTP {
		agent, err := o.agents.AgentForDomain(ctx, domain)
		if err != nil {
			return err
		}
		if agent == nil || !agent.Connected {
			return fmt.Errorf("%w: '%s'", ErrRouting, domain)
		}

		if err := o.prop.Publish(ctx, agent, vr.ChallengeToken, vr.ChallengeAuthorization); err != nil {
			return fmt.Errorf("acme: failed to publish challenge to agent '%s': %w", agent.Name, err)
		}
		defer func() {
			if err := o.prop.Withdraw(context.WithoutCancel(ctx), agent, vr.ChallengeToken); err != nil {
				logger.Warn("Failed to withdraw challenge from agent",
					zap.String("agent", agent.Name), zap.String("domain", domain), zap.Error(err))
			}
		}()
	}

	if _, err := login.Client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("%w: failed to accept challenge: %w", ErrProtocol, err)
	}

	status, err := waitForCompletion(ctx, challengeUpdater(login.Client, chal.URI))
	if err != nil {
		return err
	}
	if status != model.StatusValid {
		return fmt.Errorf("acme: challenge for domain '%s' ended with status '%s'", domain, status)
	}
	return nil
}

// markRemaining records an aborting error against every domain that has no
// outcome yet.
func markRemaining(results map[string]ExecuteResult, cert *model.Certificate, err error) {
	for _, vr := range cert.ValidationRequests {
		if _, ok := results[vr.Domain]; !ok {
			results[vr.Domain] = ExecuteResult{Success: false, Message: err.Error()}
		}
	}
}

func challengeUpdater(client Client, url string) updateFunc {
	return func(ctx context.Context) (model.Status, time.Time, error) {
		chal, err := client.GetChallenge(ctx, url)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%w: failed to refresh challenge: %w", ErrProtocol, err)
		}
		return model.Status(chal.Status), time.Time{}, nil
	}
}

func orderUpdater(client Client, url string) updateFunc {
	return func(ctx context.Context) (model.Status, time.Time, error) {
		order, err := client.GetOrder(ctx, url)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%w: failed to refresh order: %w", ErrProtocol, err)
		}
		return model.Status(order.Status), time.Time{}, nil
	}
}

func certificateRequest(key *ecdsa.PrivateKey, domains []string) ([]byte, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("acme: order has no domains")
	}
	tmpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains,
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to create certificate request: %w", err)
	}
	return csr, nil
}
