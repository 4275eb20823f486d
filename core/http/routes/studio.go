package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/http/endpoints/studio"
)

func RegisterStudioRoutes(e *echo.Echo, app *application.Application) {
	api := e.Group("/api")

	api.GET("/models", studio.ListModelsEndpoint(app))
	api.GET("/models/:id", studio.GetModelEndpoint(app))
	api.GET("/models/:id/capabilities", studio.ModelCapabilitiesEndpoint(app))

	api.GET("/workspace", studio.GetWorkspaceEndpoint(app))
	api.PUT("/workspace/model", studio.SelectModelEndpoint(app))
	api.GET("/workspace/form", studio.FormEndpoint(app))
	api.PUT("/workspace/params/:field", studio.SetParamEndpoint(app))
	api.DELETE("/workspace/params", studio.ClearParamsEndpoint(app))
	api.POST("/workspace/validate", studio.ValidateEndpoint(app))
	api.POST("/workspace/generate", studio.WorkspaceGenerateEndpoint(app))

	api.POST("/generate", studio.GenerateEndpoint(app))
	api.GET("/messages/:mid", studio.GetMessageEndpoint(app))

	api.GET("/sessions", studio.ListSessionsEndpoint(app))
	api.POST("/sessions", studio.CreateSessionEndpoint(app))
	api.PUT("/sessions/:id", studio.RenameSessionEndpoint(app))
	api.POST("/sessions/:id/select", studio.SelectSessionEndpoint(app))
	api.DELETE("/sessions/:id", studio.DeleteSessionEndpoint(app))
	api.GET("/sessions/:id/messages", studio.ListMessagesEndpoint(app))
	api.DELETE("/sessions/:id/messages", studio.ClearSessionEndpoint(app))
	api.DELETE("/sessions/:id/messages/:mid", studio.DeleteMessageEndpoint(app))

	api.GET("/auto-attach", studio.AutoAttachEndpoint(app))
	api.DELETE("/auto-attach", studio.DismissAutoAttachEndpoint(app))

	if app.Traces() != nil {
		api.GET("/traces", studio.TracesEndpoint(app))
	}
}
