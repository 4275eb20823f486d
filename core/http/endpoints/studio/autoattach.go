package studio

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/http/middleware"
	"github.com/mudler/genstudio/core/schema"
)

// AutoAttachEndpoint tells whether the next generation of the workspace model
// would be fed the last generated image of a session, the current one unless
// the session query parameter names another.
// @Success 200 {object} schema.AutoAttachResponse
// @Router /api/auto-attach [get]
func AutoAttachEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		_, s, err := app.Workspaces().Get(ctx, middleware.Owner(c))
		if err != nil {
			return err
		}
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		url, ok := store.AutoAttachCandidate(c.QueryParam("session"), config.SupportsImageInput(s))
		resp := schema.AutoAttachResponse{Available: ok, Dismissed: store.AutoAttachDisabled()}
		if ok {
			resp.URL = middleware.AbsoluteURL(c, url)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// DismissAutoAttachEndpoint suppresses auto-attach until the next successful
// generation.
// @Router /api/auto-attach [delete]
func DismissAutoAttachEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		if err := store.DismissAutoAttach(); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}
