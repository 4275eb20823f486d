package studio

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/http/middleware"
	"github.com/mudler/genstudio/core/trace"
)

// TracesEndpoint lists the recent generations of the caller, oldest first.
// @Router /api/traces [get]
func TracesEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := middleware.Owner(c)
		out := []trace.GenerationTrace{}
		for _, t := range app.Traces().List() {
			if t.Owner == owner {
				out = append(out, t)
			}
		}
		return c.JSON(http.StatusOK, out)
	}
}
