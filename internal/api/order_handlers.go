package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/acme"
	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/storage"
)

// HandlePlaceOrder creates a new order for the logged-in account and records
// one validation request per domain.
func HandlePlaceOrder(c echo.Context) error {
	engine := c.Get(ContextKeyEngine).(Engine)
	reqLogger := handlerLogger(c, "HandlePlaceOrder")
	ctx := c.Request().Context()
	owner := auth.FromContext(c).Account

	var req acme.PlaceOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if len(req.Domains) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "At least one domain is required")
	}
	if !req.Provider.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown ACME provider")
	}
	if req.ChallengeType != "" && req.ChallengeType != model.ChallengeHTTP && req.ChallengeType != model.ChallengeDNS {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown challenge type")
	}

	cert, err := engine.PlaceOrder(ctx, owner, req)
	if err != nil {
		reqLogger.Error("Failed to place order", zap.Strings("domains", req.Domains), zap.Error(err))
		switch {
		case errors.Is(err, acme.ErrUnsupportedChallenge), errors.Is(err, acme.ErrNoSupportedChallenge):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, acme.ErrProtocol):
			return echo.NewHTTPError(http.StatusBadGateway, "Provider rejected the order")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to place order")
		}
	}

	reqLogger.Info("Order placed", zap.String("orderID", cert.OrderID), zap.Strings("domains", cert.Domains))
	return c.JSON(http.StatusCreated, cert)
}

// HandleExecuteOrder solves the challenges of an existing order and
// finalizes it. Returns the per-domain outcome map even when some domains
// failed.
func HandleExecuteOrder(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	engine := c.Get(ContextKeyEngine).(Engine)
	reqLogger := handlerLogger(c, "HandleExecuteOrder")
	ctx := c.Request().Context()
	owner := auth.FromContext(c).Account

	orderID := c.QueryParam("orderId")
	if orderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "orderId query parameter is required")
	}

	cert, err := store.GetCertificateByOrderID(ctx, orderID)
	if err != nil {
		reqLogger.Error("Failed to load certificate", zap.String("orderID", orderID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load order")
	}
	if cert == nil || cert.AccountID != owner.ID {
		return echo.NewHTTPError(http.StatusNotFound, "Order not found")
	}

	results, err := engine.ExecuteOrder(ctx, owner, cert)
	if err != nil {
		reqLogger.Error("Order execution failed", zap.String("orderID", orderID), zap.Error(err))
		if len(results) == 0 {
			return echo.NewHTTPError(http.StatusBadGateway, "Order execution failed")
		}
		// Partial outcomes are still useful to the caller.
	}

	reqLogger.Info("Order execution finished", zap.String("orderID", orderID), zap.Int("domains", len(results)))
	return c.JSON(http.StatusOK, results)
}
