package acme

import (
	"context"
	"fmt"

	"golang.org/x/crypto/acme"
)

// FakeClient is a function-field implementation of Client for tests. Only
// the fields a test sets need to be populated; calling an unset method
// panics with the method name so the gap is obvious.
type FakeClient struct {
	DiscoverFunc                func(ctx context.Context) (acme.Directory, error)
	RegisterFunc                func(ctx context.Context, a *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	GetRegFunc                  func(ctx context.Context, url string) (*acme.Account, error)
	AuthorizeOrderFunc          func(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetOrderFunc                func(ctx context.Context, url string) (*acme.Order, error)
	GetAuthorizationFunc        func(ctx context.Context, url string) (*acme.Authorization, error)
	GetChallengeFunc            func(ctx context.Context, url string) (*acme.Challenge, error)
	AcceptFunc                  func(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	CreateOrderCertFunc         func(ctx context.Context, url string, csr []byte, bundle bool) ([][]byte, string, error)
	HTTP01ChallengeResponseFunc func(token string) (string, error)
	DNS01ChallengeRecordFunc    func(token string) (string, error)
}

var _ Client = (*FakeClient)(nil)

func (f *FakeClient) Discover(ctx context.Context) (acme.Directory, error) {
	if f.DiscoverFunc == nil {
		panic(fakeUnset("Discover"))
	}
	return f.DiscoverFunc(ctx)
}

func (f *FakeClient) Register(ctx context.Context, a *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error) {
	if f.RegisterFunc == nil {
		panic(fakeUnset("Register"))
	}
	return f.RegisterFunc(ctx, a, prompt)
}

func (f *FakeClient) GetReg(ctx context.Context, url string) (*acme.Account, error) {
	if f.GetRegFunc == nil {
		panic(fakeUnset("GetReg"))
	}
	return f.GetRegFunc(ctx, url)
}

func (f *FakeClient) AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error) {
	if f.AuthorizeOrderFunc == nil {
		panic(fakeUnset("AuthorizeOrder"))
	}
	return f.AuthorizeOrderFunc(ctx, id, opt...)
}

func (f *FakeClient) GetOrder(ctx context.Context, url string) (*acme.Order, error) {
	if f.GetOrderFunc == nil {
		panic(fakeUnset("GetOrder"))
	}
	return f.GetOrderFunc(ctx, url)
}

func (f *FakeClient) GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error) {
	if f.GetAuthorizationFunc == nil {
		panic(fakeUnset("GetAuthorization"))
	}
	return f.GetAuthorizationFunc(ctx, url)
}

func (f *FakeClient) GetChallenge(ctx context.Context, url string) (*acme.Challenge, error) {
	if f.GetChallengeFunc == nil {
		panic(fakeUnset("GetChallenge"))
	}
	return f.GetChallengeFunc(ctx, url)
}

func (f *FakeClient) Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error) {
	if f.AcceptFunc == nil {
		panic(fakeUnset("Accept"))
	}
	return f.AcceptFunc(ctx, chal)
}

func (f *FakeClient) CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) ([][]byte, string, error) {
	if f.CreateOrderCertFunc == nil {
		panic(fakeUnset("CreateOrderCert"))
	}
	return f.CreateOrderCertFunc(ctx, url, csr, bundle)
}

func (f *FakeClient) HTTP01ChallengeResponse(token string) (string, error) {
	if f.HTTP01ChallengeResponseFunc == nil {
		panic(fakeUnset("HTTP01ChallengeResponse"))
	}
	return f.HTTP01ChallengeResponseFunc(token)
}

func (f *FakeClient) DNS01ChallengeRecord(token string) (string, error) {
	if f.DNS01ChallengeRecordFunc == nil {
		panic(fakeUnset("DNS01ChallengeRecord"))
	}
	return f.DNS01ChallengeRecordFunc(token)
}

func fakeUnset(method string) string {
	return fmt.Sprintf("acme: FakeClient.%s called but not set", method)
}
