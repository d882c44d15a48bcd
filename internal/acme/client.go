package acme

import (
	"context"
	"crypto"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/acme"
)

// Client is the subset of the ACME protocol client the order pipeline uses.
// The production implementation is *acme.Client; tests use FakeClient.
type Client interface {
	Discover(ctx context.Context) (acme.Directory, error)
	Register(ctx context.Context, a *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	GetReg(ctx context.Context, url string) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetOrder(ctx context.Context, url string) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	GetChallenge(ctx context.Context, url string) (*acme.Challenge, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
	HTTP01ChallengeResponse(token string) (string, error)
	DNS01ChallengeRecord(token string) (string, error)
}

var _ Client = (*acme.Client)(nil)

// NewClient builds a protocol client for the given directory endpoint,
// signing with the account key.
func NewClient(directoryURL string, key crypto.Signer) Client {
	return &acme.Client{
		Key:          key,
		DirectoryURL: directoryURL,
		UserAgent:    "acmemanager",
		RetryBackoff: retryBackoff,
	}
}

// retryBackoff retries badNonce rejections with truncated binary
// exponential backoff. Any other failure is surfaced immediately.
func retryBackoff(n int, r *http.Request, resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusBadRequest {
		return -1
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return -1
	}
	if !strings.Contains(string(body), "urn:ietf:params:acme:error:badNonce") {
		return -1
	}

	if n < 1 {
		n = 1
	}
	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	d := time.Duration(1<<uint(n-1))*time.Second + jitter
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}
