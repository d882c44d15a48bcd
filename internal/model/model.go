package model

import (
	"time"
)

// Status mirrors the ACME status vocabulary shared by orders, authorizations
// and challenges (RFC 8555 Section 7.1.6).
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusValid      Status = "valid"
	StatusInvalid    Status = "invalid"
	StatusExpired    Status = "expired"
)

// Terminal reports whether the status is one of the two terminal outcomes
// the polling engine waits for.
func (s Status) Terminal() bool {
	return s == StatusValid || s == StatusInvalid
}

// ChallengeType identifies the ACME challenge mechanism selected for a
// validation request.
type ChallengeType string

const (
	ChallengeHTTP ChallengeType = "http-01"
	ChallengeDNS  ChallengeType = "dns-01"
)

// Provider identifies a supported ACME server.
type Provider string

const (
	ProviderLetsEncrypt        Provider = "LETS_ENCRYPT"
	ProviderLetsEncryptStaging Provider = "LETS_ENCRYPT_STAGING"
)

// DirectoryURL returns the ACME v2 directory endpoint for the provider.
func (p Provider) DirectoryURL() string {
	switch p {
	case ProviderLetsEncryptStaging:
		return "https://acme-staging-v02.api.letsencrypt.org/directory"
	default:
		return "https://acme-v02.api.letsencrypt.org/directory"
	}
}

// FriendlyName returns a human-readable provider name.
func (p Provider) FriendlyName() string {
	switch p {
	case ProviderLetsEncryptStaging:
		return "Let's Encrypt Staging"
	default:
		return "Let's Encrypt"
	}
}

// Production reports whether certificates issued by this provider chain to a
// publicly trusted root.
func (p Provider) Production() bool {
	return p == ProviderLetsEncrypt
}

// Valid reports whether the provider is one of the known values.
func (p Provider) Valid() bool {
	return p == ProviderLetsEncrypt || p == ProviderLetsEncryptStaging
}

// Account represents a registered identity at an ACME provider. AccountID is
// content-addressed: the SHA-256 fingerprint (uppercase hex) of the
// provider-assigned account location URL. The pair must stay consistent for
// the lifetime of the row.
type Account struct {
	ID              int64     `json:"id" db:"id"`
	ServerURI       string    `json:"serverUri" db:"server_uri"`
	AccountID       string    `json:"accountId" db:"account_id"`
	AccountLocation string    `json:"accountLocation" db:"account_location"`
	Email           string    `json:"emailAddress" db:"email"`
	PrivateKeyPEM   string    `json:"-" db:"private_key_pem"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// Certificate is the aggregate for one ACME order. OrderID is the SHA-256
// fingerprint (uppercase hex) of the order location URL and is the natural
// dedup key: placing an order the provider answers with an already known
// location returns the existing row.
type Certificate struct {
	ID                 int64                `json:"id" db:"id"`
	OrderID            string               `json:"orderId" db:"order_id"`
	OrderURL           string               `json:"orderUrl" db:"order_url"`
	Domains            []string             `json:"domains" db:"domains"`
	SaveKeyPair        bool                 `json:"saveKeyPair" db:"save_key_pair"`
	Provider           Provider             `json:"acmeProvider" db:"acme_provider"`
	Status             Status               `json:"status" db:"status"`
	CertificatePEM     string               `json:"-" db:"certificate_pem"`
	AccountID          int64                `json:"accountId" db:"account_id"`
	ValidationRequests []*ValidationRequest `json:"validationRequests,omitempty" db:"-"`
	CreatedAt          time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time            `json:"updatedAt" db:"updated_at"`
}

// ValidationRequest represents one authorization (one domain) within an
// order. The challenge fields are populated at order placement and are
// immutable afterwards; only Status changes later, once, when the polling
// engine observes the terminal outcome of the order.
type ValidationRequest struct {
	ID                     int64         `json:"id" db:"id"`
	Domain                 string        `json:"domain" db:"domain"`
	Status                 Status        `json:"status" db:"status"`
	ExpiresAt              time.Time     `json:"expiresAt" db:"expires_at"`
	OrderURL               string        `json:"orderUrl" db:"order_url"`
	OrderID                string        `json:"orderId" db:"order_id"`
	ChallengeType          ChallengeType `json:"challengeType" db:"challenge_type"`
	ChallengeToken         string        `json:"challengeToken" db:"challenge_token"`
	ChallengeAuthorization string        `json:"challengeAuthorization" db:"challenge_authorization"`
	CertificateID          int64         `json:"-" db:"certificate_id"`
	CreatedAt              time.Time     `json:"createdAt" db:"created_at"`
}

// Agent is a remote process that serves HTTP-01 challenge responses for the
// domains it fronts. Token is the shared secret the manager presents on the
// agent's challenge API. Connected is maintained by the health checker.
type Agent struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Token     string    `json:"-" db:"token"`
	URL       string    `json:"url" db:"url"`
	Domains   []string  `json:"domains" db:"domains"`
	Connected bool      `json:"isConnected" db:"is_connected"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// FrontsDomain reports whether the agent serves challenges for the domain.
func (a *Agent) FrontsDomain(domain string) bool {
	for _, d := range a.Domains {
		if d == domain {
			return true
		}
	}
	return false
}
