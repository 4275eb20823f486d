package studio

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/http/middleware"
	"github.com/mudler/genstudio/core/params"
	"github.com/mudler/genstudio/core/payload"
	"github.com/mudler/genstudio/core/schema"
	"github.com/mudler/genstudio/core/services"
)

// GenerateEndpoint dispatches a generation from a multipart body in the
// flattened transport format. The "model" part picks the schema, the
// workspace model when absent; "session_id", "auto_attach" and "wait" are
// optional.
// @Accept multipart/form-data
// @Success 202 {object} schema.GenerateResponse
// @Failure 400 {object} schema.ErrorResponse
// @Router /api/generate [post]
func GenerateEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		mf, err := c.MultipartForm()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "a multipart body is required")
		}
		field := func(name string) string {
			if v := mf.Value[name]; len(v) > 0 {
				return v[0]
			}
			return ""
		}

		var s *config.ModelSchema
		if id := field("model"); id != "" {
			if s, err = app.ModelSchemaLoader().MustGetModelSchema(id); err != nil {
				return err
			}
		} else if _, s, err = app.Workspaces().Get(c.Request().Context(), middleware.Owner(c)); err != nil {
			return err
		}

		values, err := payload.Decode(s, mf)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		req := schema.GenerateRequest{SessionID: field("session_id")}
		if v := field("auto_attach"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "auto_attach must be a boolean")
			}
			req.AutoAttach = &b
		}
		req.Wait, _ = strconv.ParseBool(field("wait"))
		return dispatch(c, app, s, values, req)
	}
}

// WorkspaceGenerateEndpoint dispatches a generation with the workspace model
// and parameter store.
// @Param request body schema.GenerateRequest false "Generation options"
// @Router /api/workspace/generate [post]
func WorkspaceGenerateEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.GenerateRequest
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return err
			}
		}
		ws, s, err := app.Workspaces().Get(c.Request().Context(), middleware.Owner(c))
		if err != nil {
			return err
		}
		return dispatch(c, app, s, ws.Params, req)
	}
}

func dispatch(c echo.Context, app *application.Application, s *config.ModelSchema, values *params.Store, req schema.GenerateRequest) error {
	ctx := c.Request().Context()
	owner := middleware.Owner(c)
	store, err := app.Chats().For(ctx, owner)
	if err != nil {
		return err
	}
	autoAttach := true
	if req.AutoAttach != nil {
		autoAttach = *req.AutoAttach
	}

	gen, err := app.GenerationService().Dispatch(ctx, store, services.GenerationRequest{
		Owner:      owner,
		SessionID:  req.SessionID,
		Schema:     s,
		Params:     values,
		AutoAttach: autoAttach,
	})
	if err != nil {
		return err
	}

	resp := schema.GenerateResponse{
		SessionID:     gen.SessionID,
		UserMessageID: gen.UserMessageID,
		MessageID:     gen.MessageID,
		Status:        chat.StatusProcessing,
	}
	if !req.Wait {
		return c.JSON(http.StatusAccepted, resp)
	}

	// the client going away stops the wait, not the generation
	msg, err := gen.Wait(ctx)
	if err != nil {
		return err
	}
	m := presentMessage(c, *msg)
	resp.Status = m.Status()
	resp.Message = &m
	return c.JSON(http.StatusOK, resp)
}
