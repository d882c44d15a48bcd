package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/acme"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/storage"
)

type createAccountRequest struct {
	Email    string         `json:"emailAddress"`
	Provider model.Provider `json:"acmeProvider"`
}

type loginRequest struct {
	Email string `json:"emailAddress"`
}

type loginResponse struct {
	Token   string         `json:"token"`
	Account *model.Account `json:"account"`
}

// HandleAccountCreate registers a new account at the ACME provider and
// persists it. Conflicts on an already used email.
func HandleAccountCreate(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	engine := c.Get(ContextKeyEngine).(Engine)
	reqLogger := handlerLogger(c, "HandleAccountCreate")
	ctx := c.Request().Context()

	var req createAccountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email address cannot be empty")
	}
	if !req.Provider.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown ACME provider")
	}

	existing, err := store.GetAccountByEmail(ctx, email)
	if err != nil {
		reqLogger.Error("Failed to look up account", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create account")
	}
	if existing != nil {
		return echo.NewHTTPError(http.StatusConflict, "Account with this email already exists")
	}

	acc, err := engine.CreateAccount(ctx, req.Provider, email)
	if err != nil {
		reqLogger.Error("Failed to register account at provider", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Provider registration failed")
	}

	if err := store.SaveAccount(ctx, acc); err != nil {
		reqLogger.Error("Failed to save account", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save account")
	}

	reqLogger.Info("Account created", zap.String("email", email), zap.String("accountID", acc.AccountID))
	return c.JSON(http.StatusCreated, acc)
}

// HandleAccountLogin restores the provider session for a stored account,
// verifies its identity and returns a session token.
func HandleAccountLogin(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	engine := c.Get(ContextKeyEngine).(Engine)
	jwtSvc := c.Get(ContextKeyJWT).(*auth.JWTService)
	reqLogger := handlerLogger(c, "HandleAccountLogin")
	ctx := c.Request().Context()

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email address cannot be empty")
	}

	acc, err := store.GetAccountByEmail(ctx, email)
	if err != nil {
		reqLogger.Error("Failed to look up account", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
	}
	if acc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Account not found")
	}

	if err := engine.Login(ctx, acc); err != nil {
		if errors.Is(err, acme.ErrIntegrity) {
			reqLogger.Error("Account identity mismatch at provider", zap.String("email", email), zap.Error(err))
			return echo.NewHTTPError(http.StatusConflict, "Stored account no longer matches the provider")
		}
		reqLogger.Error("Failed to restore provider session", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Provider login failed")
	}

	token, err := jwtSvc.IssueAccountToken(acc)
	if err != nil {
		reqLogger.Error("Failed to issue session token", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
	}

	reqLogger.Info("Account logged in", zap.String("email", email))
	return c.JSON(http.StatusOK, loginResponse{Token: token, Account: acc})
}
