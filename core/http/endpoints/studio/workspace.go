package studio

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/form"
	"github.com/mudler/genstudio/core/http/middleware"
	"github.com/mudler/genstudio/core/params"
	"github.com/mudler/genstudio/core/schema"
)

func workspaceResponse(c echo.Context, app *application.Application) error {
	ws, s, err := app.Workspaces().Get(c.Request().Context(), middleware.Owner(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, schema.WorkspaceResponse{
		Model:      summarize(s),
		Params:     ws.Params,
		Validation: config.ValidateAll(s, ws.Params),
	})
}

// GetWorkspaceEndpoint returns the selected model and the parameter store
// @Router /api/workspace [get]
func GetWorkspaceEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		return workspaceResponse(c, app)
	}
}

// SelectModelEndpoint switches the workspace model. Switching to another
// model clears the parameter store.
// @Param request body schema.SelectModelRequest true "Model id"
// @Router /api/workspace/model [put]
func SelectModelEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.SelectModelRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		if req.Model == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "model is required")
		}
		if err := app.Workspaces().SelectModel(c.Request().Context(), middleware.Owner(c), req.Model); err != nil {
			return err
		}
		return workspaceResponse(c, app)
	}
}

// FormEndpoint renders the active fields of the workspace model
// @Success 200 {object} schema.FormResponse
// @Router /api/workspace/form [get]
func FormEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, s, err := app.Workspaces().Get(c.Request().Context(), middleware.Owner(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, schema.FormResponse{
			ModelID: s.ID,
			Fields:  form.Render(s, ws.Params),
		})
	}
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// SetParamEndpoint writes one field of the parameter store, addressed by its
// UI field name. Multipart bodies carry the raw input in a "value" part and
// go through the field's component; JSON bodies carry the typed value. A null
// or empty value removes the entry.
// @Param field path string true "UI field name"
// @Router /api/workspace/params/{field} [put]
func SetParamEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		field := c.Param("field")
		var update func(*config.ModelSchema, *params.Store) error

		if isMultipart(c) {
			mf, err := c.MultipartForm()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			update = func(s *config.ModelSchema, store *params.Store) error {
				if err := form.Collect(s, store, field, mf.Value["value"], mf.File["value"]); err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, err.Error())
				}
				return nil
			}
		} else {
			var req schema.SetParamRequest
			if err := c.Bind(&req); err != nil {
				return err
			}
			value, err := params.DecodeValue(req.Value)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid value: %v", err))
			}
			update = func(s *config.ModelSchema, store *params.Store) error {
				name, _, ok := s.PropertyByUIField(field)
				if !ok {
					return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("model %s has no field %q", s.ID, field))
				}
				if value == nil {
					store.Delete(s.UIField(name))
					return nil
				}
				store.Set(s.UIField(name), value)
				return nil
			}
		}

		if err := app.Workspaces().Update(c.Request().Context(), middleware.Owner(c), update); err != nil {
			return err
		}
		return workspaceResponse(c, app)
	}
}

// @Router /api/workspace/params [delete]
func ClearParamsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := app.Workspaces().ClearParams(c.Request().Context(), middleware.Owner(c)); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// ValidateEndpoint validates the whole parameter store without dispatching
// @Success 200 {object} config.ValidationReport
// @Router /api/workspace/validate [post]
func ValidateEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, s, err := app.Workspaces().Get(c.Request().Context(), middleware.Owner(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, config.ValidateAll(s, ws.Params))
	}
}
