package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/awgpanel/awg-manager/util"
)

// APIKeyHeader carries the key checked by APIKey.
const APIKeyHeader = "X-API-Key"

// ContentTypeJson checks that the requests have the Content-Type header set to "application/json".
// This helps against CSRF attacks.
func ContentTypeJson(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		contentType := c.Request().Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
			return c.JSON(http.StatusBadRequest, jsonHTTPResponse{false, "Only JSON allowed"})
		}

		return next(c)
	}
}

// APIKey rejects requests that do not present the configured API key.
func APIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !util.VerifyAPIKey(c.Request().Header.Get(APIKeyHeader)) {
			return c.JSON(http.StatusUnauthorized, jsonHTTPResponse{false, "Invalid API key"})
		}
		return next(c)
	}
}
