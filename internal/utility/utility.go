package utility

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GetRealIP returns the client IP as resolved by the router's IPExtractor.
// Forwarding headers only count when they come from a trusted proxy.
func GetRealIP(c echo.Context) string {
	return c.RealIP()
}

// GetLogger returns the request-scoped logger set by the logger middleware,
// falling back to the global one.
func GetLogger(c echo.Context) *zerolog.Logger {
	if l, ok := c.Get("logger").(*zerolog.Logger); ok && l != nil {
		return l
	}
	return &log.Logger
}

// GetRequestID returns the request id set by the logger middleware.
func GetRequestID(c echo.Context) string {
	id, _ := c.Get("request_id").(string)
	return id
}
