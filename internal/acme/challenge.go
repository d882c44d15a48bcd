package acme

import (
	"fmt"

	"golang.org/x/crypto/acme"

	"github.com/codebuckets/acmemanager/internal/model"
)

// SelectedChallenge is the challenge chosen for one authorization, with its
// solver material resolved. For http-01, Token is the challenge token and
// Authorization the key authorization the agent must serve. For dns-01,
// Token is the TXT record name and Authorization the record value.
type SelectedChallenge struct {
	Type          model.ChallengeType
	Domain        string
	Token         string
	Authorization string
	Challenge     *acme.Challenge
}

// SelectChallenge picks the challenge to solve for an authorization. When
// forced names a challenge type, that type must be offered; otherwise
// http-01 is preferred over dns-01.
func SelectChallenge(client Client, authz *acme.Authorization, forced model.ChallengeType) (*SelectedChallenge, error) {
	domain := authz.Identifier.Value

	var httpChal, dnsChal *acme.Challenge
	for _, chal := range authz.Challenges {
		switch chal.Type {
		case "http-01":
			httpChal = chal
		case "dns-01":
			dnsChal = chal
		}
	}

	var chosen *acme.Challenge
	switch forced {
	case model.ChallengeHTTP:
		chosen = httpChal
	case model.ChallengeDNS:
		chosen = dnsChal
	case "":
		if httpChal != nil {
			chosen = httpChal
		} else {
			chosen = dnsChal
		}
	default:
		return nil, fmt.Errorf("%w: unknown challenge type '%s'", ErrUnsupportedChallenge, forced)
	}

	if chosen == nil {
		if forced != "" {
			return nil, fmt.Errorf("%w: '%s' for domain '%s'", ErrUnsupportedChallenge, forced, domain)
		}
		return nil, fmt.Errorf("%w: domain '%s'", ErrNoSupportedChallenge, domain)
	}

	switch chosen.Type {
	case "http-01":
		keyAuth, err := client.HTTP01ChallengeResponse(chosen.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to compute key authorization: %w", ErrProtocol, err)
		}
		return &SelectedChallenge{
			Type:          model.ChallengeHTTP,
			Domain:        domain,
			Token:         chosen.Token,
			Authorization: keyAuth,
			Challenge:     chosen,
		}, nil
	default:
		record, err := client.DNS01ChallengeRecord(chosen.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to compute TXT record: %w", ErrProtocol, err)
		}
		return &SelectedChallenge{
			Type:          model.ChallengeDNS,
			Domain:        domain,
			Token:         DNSChallengeRecordName(domain),
			Authorization: record,
			Challenge:     chosen,
		}, nil
	}
}

// DNSChallengeRecordName returns the fully qualified TXT record name a
// dns-01 challenge for the domain must be published under.
func DNSChallengeRecordName(domain string) string {
	return "_acme-challenge." + domain + "."
}
