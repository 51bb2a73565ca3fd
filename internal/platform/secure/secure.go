// Package secure holds HTTP guards for credential-handling endpoints.
package secure

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// NoStore sets the headers required on every response that may carry or
// echo credential material.
func NoStore() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set(echo.HeaderXFrameOptions, "DENY")
			h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
			h.Set("Pragma", "no-cache")
			return next(c)
		}
	}
}

// IsEncrypted reports whether r reached us over TLS, directly or through a
// proxy that terminated it.
func IsEncrypted(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get(echo.HeaderXForwardedProto), "https") {
		return true
	}
	return strings.EqualFold(r.Header.Get(echo.HeaderXForwardedSsl), "on")
}

// MethodNotAllowed answers 405 with an Allow header, for paths that accept a
// single method.
func MethodNotAllowed(allow string) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderAllow, allow)
		return c.JSON(http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "Method not allowed"})
	}
}
