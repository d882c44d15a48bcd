package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/codebuckets/acmemanager/internal/model"
)

const (
	tokenIssuer   = "acmemanager"
	tokenLifetime = 12 * time.Hour
)

// JWTService issues and verifies HS256 session tokens for accounts. The
// subject claim carries the account's database id.
type JWTService struct {
	secret []byte
}

// NewJWTService creates a JWTService from the configured HMAC secret.
func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

// IssueAccountToken mints a signed session token for the account.
func (s *JWTService) IssueAccountToken(acc *model.Account) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: s.secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("auth: failed to create signer: %w", err)
	}

	now := time.Now()
	claims := jwt.Claims{
		Issuer:   tokenIssuer,
		Subject:  strconv.FormatInt(acc.ID, 10),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(tokenLifetime)),
	}

	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return raw, nil
}

// VerifyAccountToken validates signature, issuer and expiry, and returns the
// account id the token was issued for.
func (s *JWTService) VerifyAccountToken(raw string) (int64, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return 0, fmt.Errorf("auth: failed to parse token: %w", err)
	}

	var claims jwt.Claims
	if err := tok.Claims(s.secret, &claims); err != nil {
		return 0, fmt.Errorf("auth: invalid token signature: %w", err)
	}
	if err := claims.Validate(jwt.Expected{Issuer: tokenIssuer, Time: time.Now()}); err != nil {
		return 0, fmt.Errorf("auth: token validation failed: %w", err)
	}

	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("auth: malformed subject claim: %w", err)
	}
	return accountID, nil
}
