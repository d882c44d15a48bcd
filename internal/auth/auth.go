// Package auth produces a caller identity for every request. A request is
// anonymous, an agent (X-Api-Key shared secret) or an account (Bearer JWT);
// handlers guard routes with the Require* middlewares.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
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
	logger = l.With(zap.String("package", "auth"))
}

// Authority classifies the caller.
type Authority int

const (
	AuthorityAnonymous Authority = iota
	AuthorityAgent
	AuthorityAccount
)

// Identity is the resolved caller. Exactly one of Account/Agent is non-nil
// for the matching authority.
type Identity struct {
	Authority Authority
	Account   *model.Account
	Agent     *model.Agent
}

const identityKey = "auth.identity"

// HeaderAPIKey is the header agents and the manager use for the shared
// secret.
const HeaderAPIKey = "X-Api-Key"

// FromContext returns the identity resolved by IdentityMiddleware. Requests
// that did not pass through it are anonymous.
func FromContext(c echo.Context) Identity {
	if id, ok := c.Get(identityKey).(Identity); ok {
		return id
	}
	return Identity{Authority: AuthorityAnonymous}
}

// IdentityMiddleware resolves the caller identity and stores it in the echo
// context. Unauthenticated requests pass through as anonymous; guards are
// applied per route with RequireAccount/RequireAgent.
func IdentityMiddleware(jwtSvc *JWTService, store storage.Storage) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity := Identity{Authority: AuthorityAnonymous}

			if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
				agent, err := store.GetAgentByToken(c.Request().Context(), key)
				if err != nil {
					logger.Error("Failed to look up agent token", zap.Error(err))
					return echo.NewHTTPError(http.StatusInternalServerError, "identity lookup failed")
				}
				if agent != nil {
					identity = Identity{Authority: AuthorityAgent, Agent: agent}
				}
			}

			if identity.Authority == AuthorityAnonymous {
				if raw := bearerToken(c); raw != "" {
					accountID, err := jwtSvc.VerifyAccountToken(raw)
					if err == nil {
						acc, lookupErr := store.GetAccount(c.Request().Context(), accountID)
						if lookupErr != nil {
							logger.Error("Failed to look up account from token", zap.Error(lookupErr))
							return echo.NewHTTPError(http.StatusInternalServerError, "identity lookup failed")
						}
						if acc != nil {
							identity = Identity{Authority: AuthorityAccount, Account: acc}
						}
					} else {
						logger.Debug("Rejected bearer token", zap.Error(err))
					}
				}
			}

			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

// RequireAccount rejects requests whose identity is not a logged-in account.
func RequireAccount(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := FromContext(c)
		if id.Authority != AuthorityAccount || id.Account == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "account authentication required")
		}
		return next(c)
	}
}

// RequireAgent rejects requests whose identity is not an agent.
func RequireAgent(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := FromContext(c)
		if id.Authority != AuthorityAgent || id.Agent == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "agent authentication required")
		}
		return next(c)
	}
}

// ConstantTimeEquals compares two shared secrets without leaking length
// timing beyond equality of lengths.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
