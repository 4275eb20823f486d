package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/mudler/xlog"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultSchemas embed.FS

var ErrModelNotFound = errors.New("model not found")

// ModelSchemaFilterFn selects schemas in GetModelSchemasByFilter.
type ModelSchemaFilterFn func(id string, s *ModelSchema) bool

func NoFilterFn(_ string, _ *ModelSchema) bool { return true }

func CategoryFilterFn(category ModelCategory) ModelSchemaFilterFn {
	return func(_ string, s *ModelSchema) bool {
		return s.Category == category
	}
}

// ModelSchemaLoader is the Model Schema Registry. Schemas are immutable once
// registered: a reload swaps entries, it never edits them.
type ModelSchemaLoader struct {
	schemas map[string]*ModelSchema
	sync.Mutex
}

func NewModelSchemaLoader() *ModelSchemaLoader {
	return &ModelSchemaLoader{
		schemas: make(map[string]*ModelSchema),
	}
}

// APIKeysFile sits next to the schemas and holds extra API keys.
const APIKeysFile = "api_keys.json"

func isSchemaFile(name string) bool {
	if strings.HasPrefix(name, ".") || name == APIKeysFile {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}

func parseModelSchema(name string, data []byte) (*ModelSchema, error) {
	c := &ModelSchema{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("cannot unmarshal model schema %q: %w", name, err)
		}
	case ".toml":
		if err := decodeTOMLSchema(data, c); err != nil {
			return nil, fmt.Errorf("cannot unmarshal model schema %q: %w", name, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("cannot unmarshal model schema %q: %w", name, err)
		}
	}
	return c, nil
}

type tomlSchemaFile struct {
	SchemaMeta
	Required   []string                        `toml:"required"`
	Properties map[string]*ParameterDescriptor `toml:"properties"`
}

// decodeTOMLSchema decodes a TOML schema keeping the declaration order of the
// [properties.*] tables.
func decodeTOMLSchema(data []byte, c *ModelSchema) error {
	var f tomlSchemaFile
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f)
	if err != nil {
		return err
	}
	c.SchemaMeta = f.SchemaMeta
	c.Required = f.Required
	for _, key := range md.Keys() {
		if len(key) != 2 || key[0] != "properties" {
			continue
		}
		if d, ok := f.Properties[key[1]]; ok {
			if _, dup := c.Properties.Get(key[1]); !dup {
				c.Properties.Set(key[1], d)
			}
		}
	}
	return nil
}

func readModelSchemaFromFile(file string) (*ModelSchema, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("readModelSchemaFromFile cannot read schema file %q: %w", file, err)
	}
	c, err := parseModelSchema(file, data)
	if err != nil {
		return nil, err
	}
	c.modelSchemaFile = file
	return c, nil
}

// LoadDefaults registers the built-in schemas shipped with the binary.
func (l *ModelSchemaLoader) LoadDefaults() error {
	entries, err := fs.ReadDir(defaultSchemas, "defaults")
	if err != nil {
		return err
	}
	l.Lock()
	defer l.Unlock()
	for _, e := range entries {
		data, err := defaultSchemas.ReadFile("defaults/" + e.Name())
		if err != nil {
			return err
		}
		c, err := parseModelSchema(e.Name(), data)
		if err != nil {
			return err
		}
		c.SetDefaults()
		if _, err := c.Validate(); err != nil {
			return fmt.Errorf("built-in schema %s: %w", e.Name(), err)
		}
		l.schemas[c.ID] = c
	}
	return nil
}

// ReadModelSchema loads a single file and overlays it on the registered
// schema with the same id, if any.
func (l *ModelSchemaLoader) ReadModelSchema(file string) error {
	c, err := readModelSchemaFromFile(file)
	if err != nil {
		return err
	}
	l.Lock()
	defer l.Unlock()
	return l.register(c)
}

func (l *ModelSchemaLoader) register(c *ModelSchema) error {
	if existing, ok := l.schemas[c.ID]; ok && c.ID != "" {
		merged, err := overlaySchema(existing, c)
		if err != nil {
			return fmt.Errorf("cannot overlay schema %s: %w", c.ID, err)
		}
		c = merged
	}
	c.SetDefaults()
	if _, err := c.Validate(); err != nil {
		return err
	}
	l.schemas[c.ID] = c
	return nil
}

// overlaySchema returns a new schema where the overlay's non-empty values win.
// Properties are merged one by one and new ones are appended. The overlay must
// not have defaults applied yet, or they would shadow the base values.
func overlaySchema(base, overlay *ModelSchema) (*ModelSchema, error) {
	out := &ModelSchema{
		modelSchemaFile: overlay.modelSchemaFile,
		SchemaMeta:      base.SchemaMeta,
	}
	if err := mergo.Merge(&out.SchemaMeta, overlay.SchemaMeta, mergo.WithOverride); err != nil {
		return nil, err
	}

	out.Required = append(out.Required, base.Required...)
	for _, r := range overlay.Required {
		if !IsRequired(out, r) {
			out.Required = append(out.Required, r)
		}
	}

	for _, prop := range base.Properties.List() {
		out.Properties.Set(prop.Name, prop.Descriptor.Clone())
	}
	for _, prop := range overlay.Properties.List() {
		existing, ok := out.Properties.Get(prop.Name)
		if !ok {
			out.Properties.Set(prop.Name, prop.Descriptor.Clone())
			continue
		}
		if err := mergo.Merge(existing, *prop.Descriptor.Clone(), mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("property %q: %w", prop.Name, err)
		}
	}
	return out, nil
}

// LoadModelSchemasFromPath reads every schema file of a directory
// (non-recursive). Invalid files are logged and skipped.
func (l *ModelSchemaLoader) LoadModelSchemasFromPath(path string) error {
	files, err := ModelSchemaFiles(path)
	if err != nil {
		return fmt.Errorf("LoadModelSchemasFromPath cannot read directory '%s': %w", path, err)
	}

	l.Lock()
	defer l.Unlock()
	for _, file := range files {
		name := filepath.Base(file)
		c, err := readModelSchemaFromFile(file)
		if err != nil {
			xlog.Error("cannot read model schema", "file", name, "error", err)
			continue
		}
		if err := l.register(c); err != nil {
			xlog.Error("model schema is not valid", "file", name, "error", err)
			continue
		}
		xlog.Debug("loaded model schema", "id", c.ID, "file", name)
	}
	return nil
}

// ModelSchemaFiles lists the schema files of a directory, sorted by name.
func ModelSchemaFiles(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isSchemaFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	return files, nil
}

// Reload rebuilds the registry from the defaults plus the given directory and
// swaps it in at once.
func (l *ModelSchemaLoader) Reload(path string) error {
	fresh := NewModelSchemaLoader()
	if err := fresh.LoadDefaults(); err != nil {
		return err
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := fresh.LoadModelSchemasFromPath(path); err != nil {
				return err
			}
		}
	}
	l.Lock()
	l.schemas = fresh.schemas
	l.Unlock()
	return nil
}

func (l *ModelSchemaLoader) GetModelSchema(id string) (*ModelSchema, bool) {
	l.Lock()
	defer l.Unlock()
	v, exists := l.schemas[id]
	return v, exists
}

// MustGetModelSchema returns ErrModelNotFound for unknown ids.
func (l *ModelSchemaLoader) MustGetModelSchema(id string) (*ModelSchema, error) {
	s, ok := l.GetModelSchema(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return s, nil
}

// GetAllModelSchemas returns every schema ordered by display name.
func (l *ModelSchemaLoader) GetAllModelSchemas() []*ModelSchema {
	return l.GetModelSchemasByFilter(nil)
}

func (l *ModelSchemaLoader) GetModelSchemasByFilter(filter ModelSchemaFilterFn) []*ModelSchema {
	l.Lock()
	defer l.Unlock()
	if filter == nil {
		filter = NoFilterFn
	}
	var res []*ModelSchema
	for id, v := range l.schemas {
		if filter(id, v) {
			res = append(res, v)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].DisplayName() == res[j].DisplayName() {
			return res[i].ID < res[j].ID
		}
		return res[i].DisplayName() < res[j].DisplayName()
	})
	return res
}

// SearchModelSchemas does a case-insensitive fuzzy match on id, name and
// description.
func (l *ModelSchemaLoader) SearchModelSchemas(term string) []*ModelSchema {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return l.GetAllModelSchemas()
	}
	return l.GetModelSchemasByFilter(func(id string, s *ModelSchema) bool {
		return fuzzy.MatchFold(term, id) ||
			fuzzy.MatchFold(term, s.Name) ||
			fuzzy.MatchFold(term, s.Model) ||
			strings.Contains(strings.ToLower(s.Description), term)
	})
}

func (l *ModelSchemaLoader) RemoveModelSchema(id string) {
	l.Lock()
	defer l.Unlock()
	delete(l.schemas, id)
}
