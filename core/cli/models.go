package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	cliContext "github.com/mudler/genstudio/core/cli/context"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/xlog"
)

type ModelsCMDFlags struct {
	ModelsPath string `env:"GENSTUDIO_MODELS_PATH,MODELS_PATH" type:"path" default:"${basepath}/models" help:"Directory with model schema files" group:"models"`
}

// loader returns the registry the server would build: built-ins overlaid
// with the files of the models path.
func (f ModelsCMDFlags) loader() (*config.ModelSchemaLoader, error) {
	l := config.NewModelSchemaLoader()
	if err := l.LoadDefaults(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(f.ModelsPath); err == nil {
		if err := l.LoadModelSchemasFromPath(f.ModelsPath); err != nil {
			return nil, err
		}
	}
	return l, nil
}

type ModelsList struct {
	Category string `help:"Only list models of this category (image or video)"`
	Search   string `arg:"" optional:"" help:"Fuzzy search term"`

	ModelsCMDFlags `embed:""`
}

type ModelsShow struct {
	Model string `arg:"" help:"Model id"`
	JSON  bool   `help:"Print the schema as JSON"`

	ModelsCMDFlags `embed:""`
}

type ModelsValidate struct {
	Files []string `arg:"" optional:"" type:"existingfile" help:"Schema files to check, all the files in the models path when empty"`

	ModelsCMDFlags `embed:""`
}

type ModelsCMD struct {
	List     ModelsList     `cmd:"" help:"List the available models" default:"withargs"`
	Show     ModelsShow     `cmd:"" help:"Show the parameters of a model"`
	Validate ModelsValidate `cmd:"" help:"Check model schema files"`
}

func (ml *ModelsList) Run(ctx *cliContext.Context) error {
	l, err := ml.loader()
	if err != nil {
		return err
	}

	schemas := l.GetAllModelSchemas()
	if ml.Search != "" {
		schemas = l.SearchModelSchemas(ml.Search)
	}
	for _, s := range schemas {
		if ml.Category != "" && string(s.Category) != ml.Category {
			continue
		}
		source := "built-in"
		if s.SourceFile() != "" {
			source = s.SourceFile()
		}
		fmt.Printf(" - %s (%s, %s) %s\n", s.ID, s.Category, s.Model, source)
	}
	return nil
}

func (ms *ModelsShow) Run(ctx *cliContext.Context) error {
	l, err := ms.loader()
	if err != nil {
		return err
	}
	s, err := l.MustGetModelSchema(ms.Model)
	if err != nil {
		return err
	}

	if ms.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	md := schemaMarkdown(s)
	renderMode := "dark"
	if os.Getenv("COLOR") != "" {
		renderMode = os.Getenv("COLOR")
	}
	out, err := glamour.Render(md, renderMode)
	if err != nil || os.Getenv("NO_COLOR") != "" {
		fmt.Println(md)
		return nil
	}
	fmt.Println(out)
	return nil
}

// schemaMarkdown describes a schema as a markdown table, in display order.
func schemaMarkdown(s *config.ModelSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.DisplayName())
	if s.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", s.Description)
	}
	fmt.Fprintf(&b, "- **id**: `%s`\n- **category**: %s\n", s.ID, s.Category)
	if s.Model != "" {
		fmt.Fprintf(&b, "- **replicate model**: `%s`\n", s.Model)
	}
	if s.Version != "" {
		fmt.Fprintf(&b, "- **version**: `%s`\n", s.Version)
	}

	caps := config.SchemaCapabilities(s)
	var supported []string
	for name, ok := range map[string]bool{
		"image input":     caps.ImageInput,
		"multiple images": caps.MultipleImages,
		"inpainting":      caps.Inpainting,
		"negative prompt": caps.NegativePrompt,
		"seed":            caps.Seed,
		"aspect ratio":    caps.AspectRatio,
		"num outputs":     caps.NumOutputs,
	} {
		if ok {
			supported = append(supported, name)
		}
	}
	if len(supported) > 0 {
		slices.Sort(supported)
		fmt.Fprintf(&b, "- **capabilities**: %s\n", strings.Join(supported, ", "))
	}

	b.WriteString("\n| field | type | required | default | range / values |\n|---|---|---|---|---|\n")
	for _, prop := range config.OrderedProperties(s) {
		d := prop.Descriptor
		kind := string(d.Kind)
		if d.IsImageList() {
			kind = "image[]"
		} else if d.IsImage() {
			kind = "image"
		}
		required := ""
		if config.IsRequired(s, prop.Name) {
			required = "yes"
		}
		def := ""
		if d.Default != nil {
			def = fmt.Sprintf("`%v`", d.Default)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", prop.Name, kind, required, def, valueRange(d))
	}
	return b.String()
}

func valueRange(d *config.ParameterDescriptor) string {
	if len(d.Enum) > 0 {
		values := make([]string, 0, len(d.Enum))
		for _, v := range d.Enum {
			values = append(values, fmt.Sprint(v))
		}
		return strings.Join(values, ", ")
	}
	switch {
	case d.Minimum != nil && d.Maximum != nil:
		return fmt.Sprintf("%v to %v", *d.Minimum, *d.Maximum)
	case d.Minimum != nil:
		return fmt.Sprintf(">= %v", *d.Minimum)
	case d.Maximum != nil:
		return fmt.Sprintf("<= %v", *d.Maximum)
	}
	return ""
}

func (mv *ModelsValidate) Run(ctx *cliContext.Context) error {
	files := mv.Files
	if len(files) == 0 {
		var err error
		files, err = config.ModelSchemaFiles(mv.ModelsPath)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			xlog.Info("No model schema files found", "path", mv.ModelsPath)
			return nil
		}
	}
	return validateFiles(os.Stdout, files)
}

func validateFiles(w io.Writer, files []string) error {
	var errs []error
	for _, f := range files {
		l := config.NewModelSchemaLoader()
		if err := l.LoadDefaults(); err != nil {
			return err
		}
		if err := l.ReadModelSchema(f); err != nil {
			fmt.Fprintf(w, "FAIL %s: %v\n", f, err)
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", f)
	}
	return errors.Join(errs...)
}
