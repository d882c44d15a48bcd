package acme

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"

	"github.com/codebuckets/acmemanager/internal/model"
)

// Login binds an account key to an ACME provider. All order operations run
// through a Login.
type Login struct {
	Client Client

	// Location is the provider-assigned account URL; AccountID is its
	// SHA-256 fingerprint.
	Location  string
	AccountID string
}

// FindOrRegisterAccount registers the client's key at the provider, agreeing
// to the terms of service. If the key is already registered, the existing
// account is fetched instead; registration is idempotent per key.
func FindOrRegisterAccount(ctx context.Context, client Client, email string) (*Login, error) {
	account := &acme.Account{}
	if email != "" {
		account.Contact = []string{"mailto:" + email}
	}

	reg, err := client.Register(ctx, account, acme.AcceptTOS)
	if err != nil {
		if !errors.Is(err, acme.ErrAccountAlreadyExists) {
			return nil, fmt.Errorf("%w: failed to register account: %w", ErrProtocol, err)
		}
		reg, err = client.GetReg(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("%w: failed to fetch existing account: %w", ErrProtocol, err)
		}
	}

	login := &Login{
		Client:    client,
		Location:  reg.URI,
		AccountID: Fingerprint(reg.URI),
	}
	logger.Info("Bound ACME account", zap.String("accountID", login.AccountID), zap.String("location", login.Location))
	return login, nil
}

// CreateAccount generates a fresh P-384 account key, registers it at the
// provider and returns the resulting account record, ready to persist.
func CreateAccount(ctx context.Context, provider model.Provider, email string) (*model.Account, error) {
	key, err := GenerateAccountKey()
	if err != nil {
		return nil, err
	}

	keyPEM, err := EncodeKeyPEM(key)
	if err != nil {
		return nil, err
	}

	client := NewClient(provider.DirectoryURL(), key)
	login, err := FindOrRegisterAccount(ctx, client, email)
	if err != nil {
		return nil, err
	}

	return &model.Account{
		ServerURI:       provider.DirectoryURL(),
		AccountID:       login.AccountID,
		AccountLocation: login.Location,
		Email:           email,
		PrivateKeyPEM:   keyPEM,
	}, nil
}

// RestoreLogin rebuilds a Login from a stored account record and verifies
// that the provider still maps the stored key to the stored identity. A
// mismatch is reported as ErrIntegrity.
func RestoreLogin(ctx context.Context, acc *model.Account) (*Login, error) {
	key, err := DecodeKeyPEM(acc.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	return restoreLogin(ctx, NewClient(acc.ServerURI, key), acc)
}

func restoreLogin(ctx context.Context, client Client, acc *model.Account) (*Login, error) {
	login, err := FindOrRegisterAccount(ctx, client, acc.Email)
	if err != nil {
		return nil, err
	}

	if login.Location != acc.AccountLocation || login.AccountID != acc.AccountID {
		return nil, fmt.Errorf("%w: provider returned account '%s', stored account is '%s'",
			ErrIntegrity, login.AccountID, acc.AccountID)
	}
	return login, nil
}
