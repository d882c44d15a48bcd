package acme

import "errors"

// Sentinel errors for the order pipeline. Callers match with errors.Is;
// wrapped messages carry the operation detail.
var (
	// ErrProtocol wraps any failure reported by the ACME provider.
	ErrProtocol = errors.New("acme: provider protocol error")

	// ErrIntegrity reports a mismatch between a stored account identity and
	// the identity the provider returned for the account key.
	ErrIntegrity = errors.New("acme: account identity mismatch")

	// ErrUnsupportedChallenge reports that a requested challenge type is not
	// offered by the authorization.
	ErrUnsupportedChallenge = errors.New("acme: requested challenge type not offered")

	// ErrNoSupportedChallenge reports that an authorization offers neither
	// http-01 nor dns-01.
	ErrNoSupportedChallenge = errors.New("acme: no supported challenge offered")

	// ErrRouting reports that no connected agent fronts the domain under
	// validation.
	ErrRouting = errors.New("acme: no connected agent for domain")

	// ErrTimeout reports that status polling exhausted its attempts without
	// reaching a terminal status.
	ErrTimeout = errors.New("acme: status polling attempts exhausted")

	// ErrCancelled reports that the operation was cancelled while waiting.
	ErrCancelled = errors.New("acme: operation cancelled")

	// ErrKeyPersist reports a failure writing issued key material to disk.
	ErrKeyPersist = errors.New("acme: failed to persist private key")
)
