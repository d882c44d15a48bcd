package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/dns"
)

type createTXTRecordRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// cloudflareService returns the configured facade or nil when the operator
// did not set an API token.
func cloudflareService(c echo.Context) *dns.CloudflareService {
	svc, _ := c.Get(ContextKeyCloudflare).(*dns.CloudflareService)
	return svc
}

// HandleListZones lists the Cloudflare zones visible to the configured
// token.
func HandleListZones(c echo.Context) error {
	svc := cloudflareService(c)
	if svc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Cloudflare facade is not configured")
	}
	reqLogger := handlerLogger(c, "HandleListZones")

	zones, err := svc.ListZones(c.Request().Context())
	if err != nil {
		reqLogger.Error("Failed to list zones", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Cloudflare request failed")
	}
	return c.JSON(http.StatusOK, zones)
}

// HandleListTXTRecords lists the TXT records of a zone.
func HandleListTXTRecords(c echo.Context) error {
	svc := cloudflareService(c)
	if svc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Cloudflare facade is not configured")
	}
	reqLogger := handlerLogger(c, "HandleListTXTRecords")

	records, err := svc.ListTXTRecords(c.Request().Context(), c.Param("zoneID"))
	if err != nil {
		reqLogger.Error("Failed to list records", zap.String("zone", c.Param("zoneID")), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Cloudflare request failed")
	}
	return c.JSON(http.StatusOK, records)
}

// HandleCreateTXTRecord publishes a TXT record, typically the
// _acme-challenge record of a dns-01 validation request.
func HandleCreateTXTRecord(c echo.Context) error {
	svc := cloudflareService(c)
	if svc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Cloudflare facade is not configured")
	}
	reqLogger := handlerLogger(c, "HandleCreateTXTRecord")

	var req createTXTRecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Record name and content are required")
	}

	record, err := svc.CreateTXTRecord(c.Request().Context(), c.Param("zoneID"), req.Name, req.Content)
	if err != nil {
		reqLogger.Error("Failed to create TXT record", zap.String("name", req.Name), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Cloudflare request failed")
	}
	return c.JSON(http.StatusCreated, record)
}

// HandleDeleteRecord removes a DNS record from a zone.
func HandleDeleteRecord(c echo.Context) error {
	svc := cloudflareService(c)
	if svc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Cloudflare facade is not configured")
	}
	reqLogger := handlerLogger(c, "HandleDeleteRecord")

	if err := svc.DeleteRecord(c.Request().Context(), c.Param("zoneID"), c.Param("recordID")); err != nil {
		reqLogger.Error("Failed to delete record", zap.String("record", c.Param("recordID")), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Cloudflare request failed")
	}
	return c.NoContent(http.StatusNoContent)
}
