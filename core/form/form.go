// Package form turns a model schema and the current Parameter Store into the
// ordered list of controls a client renders, and collects submitted input
// back into the store.
package form

import (
	"fmt"
	"mime/multipart"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/params"
	"github.com/russross/blackfriday"
)

// Field is one visible form field.
type Field struct {
	Name            string             `json:"name"`
	UIField         string             `json:"ui_field"`
	APIField        string             `json:"api_field"`
	Title           string             `json:"title"`
	Description     string             `json:"description,omitempty"`
	DescriptionHTML string             `json:"description_html,omitempty"`
	Kind            config.ParamKind   `json:"kind"`
	Component       config.UIComponent `json:"component"`
	GridColumn      int                `json:"grid_column"`
	Required        bool               `json:"required"`
	Value           any                `json:"value"`
	Control         Control            `json:"control"`
}

// Render lists the active fields of a schema in display order. Fields whose
// dependency is not satisfied are left out; their stored values are kept.
func Render(s *config.ModelSchema, store *params.Store) []Field {
	var fields []Field
	for _, prop := range config.OrderedProperties(s) {
		if !config.IsFieldActive(s, prop.Name, store) {
			continue
		}
		d := prop.Descriptor
		component := d.Component()
		grid := d.GridColumn
		if grid == 0 {
			grid = 1
		}
		fields = append(fields, Field{
			Name:            prop.Name,
			UIField:         s.UIField(prop.Name),
			APIField:        s.APIField(prop.Name),
			Title:           d.Title,
			Description:     d.Description,
			DescriptionHTML: DescriptionHTML(d.Description),
			Kind:            d.Kind,
			Component:       component,
			GridColumn:      grid,
			Required:        config.IsRequired(s, prop.Name),
			Value:           config.InitialValue(s, prop.Name, store),
			Control:         StrategyFor(component).Control(d),
		})
	}
	return fields
}

// Set writes one field value. Sibling entries, dependent fields included,
// are never touched.
func Set(store *params.Store, field Field, value any) {
	store.Set(field.UIField, value)
}

// Collect parses raw input for the property behind a UI field name with its
// component strategy and writes it into the store.
func Collect(s *config.ModelSchema, store *params.Store, uiField string, values []string, files []*multipart.FileHeader) error {
	name, d, ok := s.PropertyByUIField(uiField)
	if !ok {
		return fmt.Errorf("model %s has no field %q", s.ID, uiField)
	}
	v, err := StrategyFor(d.Component()).Collect(d, values, files)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Title, err)
	}
	if v == nil {
		store.Delete(s.UIField(name))
		return nil
	}
	store.Set(s.UIField(name), v)
	return nil
}

// CollectForm collects every field of a submitted form. Fields absent from
// the form are left untouched.
func CollectForm(s *config.ModelSchema, store *params.Store, f *multipart.Form) error {
	for _, prop := range s.Properties.List() {
		ui := s.UIField(prop.Name)
		values, hasValue := f.Value[ui]
		files, hasFile := f.File[ui]
		if !hasValue && !hasFile {
			continue
		}
		if err := Collect(s, store, ui, values, files); err != nil {
			return err
		}
	}
	return nil
}

var descriptionPolicy = bluemonday.UGCPolicy()

// DescriptionHTML renders a Markdown description into sanitized HTML.
func DescriptionHTML(md string) string {
	if md == "" {
		return ""
	}
	return descriptionPolicy.Sanitize(string(blackfriday.MarkdownCommon([]byte(md))))
}
