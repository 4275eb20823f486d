package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/services"
)

// skipMetrics lists the routes not worth a time series.
var skipMetrics = []string{"/metrics", "/healthz", "/readyz", "/generated-images"}

// Metrics records the duration of every API call, labelled with the route
// template rather than the raw path so ids do not explode cardinality.
func Metrics(m *services.MetricsService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			for _, p := range skipMetrics {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}
			start := time.Now()
			err := next(c)
			if path == "" {
				path = "unmatched"
			}
			m.ObserveAPICall(c.Request().Method, path, time.Since(start).Seconds())
			return err
		}
	}
}
