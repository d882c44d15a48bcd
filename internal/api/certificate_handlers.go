package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/auth"
	"github.com/codebuckets/acmemanager/internal/storage"
)

// HandleGetCertificates lists the account's certificates through the
// filter/pagination envelope. The account scope is enforced server-side.
func HandleGetCertificates(c echo.Context) error {
	store := c.Get(ContextKeyStore).(storage.Storage)
	reqLogger := handlerLogger(c, "HandleGetCertificates")
	ctx := c.Request().Context()
	owner := auth.FromContext(c).Account

	var f storage.Filter
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	// Callers only ever see their own certificates.
	if f.Filters == nil {
		f.Filters = make(map[string]string)
	}
	f.Filters["accountId"] = strconv.FormatInt(owner.ID, 10)

	certs, total, err := store.ListCertificates(ctx, f)
	if err != nil {
		reqLogger.Error("Failed to list certificates", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, PagedResponse{Items: certs, Page: f.Page, Size: f.Size, Total: total})
}
