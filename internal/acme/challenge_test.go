package acme_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xacme "golang.org/x/crypto/acme"

	"github.com/codebuckets/acmemanager/internal/acme"
	"github.com/codebuckets/acmemanager/internal/model"
)

func selectorClient() *acme.FakeClient {
	return &acme.FakeClient{
		HTTP01ChallengeResponseFunc: func(token string) (string, error) {
			return token + ".keyauth", nil
		},
		DNS01ChallengeRecordFunc: func(token string) (string, error) {
			return "digest-of-" + token, nil
		},
	}
}

func authzWith(domain string, types ...string) *xacme.Authorization {
	authz := &xacme.Authorization{
		Identifier: xacme.AuthzID{Type: "dns", Value: domain},
	}
	for _, typ := range types {
		authz.Challenges = append(authz.Challenges, &xacme.Challenge{
			Type:  typ,
			Token: "tok-" + typ,
			URI:   "https://example.org/chal/" + typ,
		})
	}
	return authz
}

func TestSelectChallengePrefersHTTP(t *testing.T) {
	sel, err := acme.SelectChallenge(selectorClient(), authzWith("example.com", "dns-01", "http-01"), "")
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeHTTP, sel.Type)
	assert.Equal(t, "tok-http-01", sel.Token)
	assert.Equal(t, "tok-http-01.keyauth", sel.Authorization)
	assert.Equal(t, "example.com", sel.Domain)
}

func TestSelectChallengeFallsBackToDNS(t *testing.T) {
	sel, err := acme.SelectChallenge(selectorClient(), authzWith("example.com", "dns-01", "tls-alpn-01"), "")
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeDNS, sel.Type)
	assert.Equal(t, "_acme-challenge.example.com.", sel.Token)
	assert.Equal(t, "digest-of-tok-dns-01", sel.Authorization)
}

func TestSelectChallengeForcedTypeHonored(t *testing.T) {
	sel, err := acme.SelectChallenge(selectorClient(), authzWith("example.com", "dns-01", "http-01"), model.ChallengeDNS)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeDNS, sel.Type)
}

func TestSelectChallengeForcedTypeNotOffered(t *testing.T) {
	_, err := acme.SelectChallenge(selectorClient(), authzWith("example.com", "http-01"), model.ChallengeDNS)
	require.Error(t, err)
	assert.ErrorIs(t, err, acme.ErrUnsupportedChallenge)
}

func TestSelectChallengeNoneSupported(t *testing.T) {
	_, err := acme.SelectChallenge(selectorClient(), authzWith("example.com", "tls-alpn-01"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, acme.ErrNoSupportedChallenge)
}

func TestDNSChallengeRecordName(t *testing.T) {
	assert.Equal(t, "_acme-challenge.shop.example.com.", acme.DNSChallengeRecordName("shop.example.com"))
}
