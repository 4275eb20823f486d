package studio

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/form"
	"github.com/mudler/genstudio/core/schema"
)

func summarize(s *config.ModelSchema) schema.ModelSummary {
	return schema.ModelSummary{
		ID:              s.ID,
		Name:            s.DisplayName(),
		Description:     s.Description,
		DescriptionHTML: form.DescriptionHTML(s.Description),
		Category:        s.Category,
		Model:           s.Model,
		Capabilities:    config.SchemaCapabilities(s),
	}
}

// ListModelsEndpoint lists the registry
// @Summary List the available generation models
// @Param q query string false "Fuzzy search on id, name and description"
// @Param category query string false "image or video"
// @Success 200 {object} schema.ModelsResponse
// @Router /api/models [get]
func ListModelsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		category := config.ModelCategory(c.QueryParam("category"))
		resp := schema.ModelsResponse{Models: []schema.ModelSummary{}}
		for _, s := range app.ModelSchemaLoader().SearchModelSchemas(c.QueryParam("q")) {
			if category != "" && s.Category != category {
				continue
			}
			resp.Models = append(resp.Models, summarize(s))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// GetModelEndpoint returns the full schema of a model
// @Summary Get a model schema
// @Param id path string true "Model id"
// @Success 200 {object} config.ModelSchema
// @Router /api/models/{id} [get]
func GetModelEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := app.ModelSchemaLoader().MustGetModelSchema(c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, s)
	}
}

// @Router /api/models/{id}/capabilities [get]
func ModelCapabilitiesEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := app.ModelSchemaLoader().MustGetModelSchema(c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, config.SchemaCapabilities(s))
	}
}
