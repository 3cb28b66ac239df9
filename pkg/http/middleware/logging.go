package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// RequestLogging emits one structured line per request. Server errors
// log at warn so they stand out of the access log.
func RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := c.Response().Status

			evt := log.Info()
			if status >= 500 {
				evt = log.Warn()
			}
			evt.
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote", req.RemoteAddr).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Msg("http request")

			return err
		}
	}
}
