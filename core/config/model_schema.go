package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ParamKind is the value type of a single model input.
type ParamKind string

const (
	KindString  ParamKind = "string"
	KindInteger ParamKind = "integer"
	KindNumber  ParamKind = "number"
	KindBoolean ParamKind = "boolean"
	KindArray   ParamKind = "array"
	KindObject  ParamKind = "object"
)

// IsNumeric reports whether values of this kind are parsed as numbers.
func (k ParamKind) IsNumeric() bool {
	return k == KindInteger || k == KindNumber
}

// ModelCategory tells whether a model produces images or videos.
type ModelCategory string

const (
	CategoryImage ModelCategory = "image"
	CategoryVideo ModelCategory = "video"
)

// FormatImageURI marks array items that are image references.
const FormatImageURI = "image-uri"

// @Description SchemaMeta is the registry metadata of a generation model
type SchemaMeta struct {
	ID          string        `yaml:"id" json:"id" toml:"id"`
	Name        string        `yaml:"name,omitempty" json:"name,omitempty" toml:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty" toml:"description"`
	Category    ModelCategory `yaml:"category,omitempty" json:"category,omitempty" toml:"category"`
	// Replicate model identifier, owner/name
	Model   string `yaml:"model,omitempty" json:"model,omitempty" toml:"model"`
	Version string `yaml:"version,omitempty" json:"version,omitempty" toml:"version"`
}

// @Description ModelSchema describes the parameters one generation model accepts
type ModelSchema struct {
	modelSchemaFile string `yaml:"-" json:"-"`

	SchemaMeta `yaml:",inline" json:",inline"`

	Required   []string   `yaml:"required,omitempty" json:"required,omitempty" toml:"required"`
	Properties Properties `yaml:"properties" json:"properties" toml:"-"`
}

// @Description ParameterDescriptor is the contract of one input field
type ParameterDescriptor struct {
	Kind        ParamKind `yaml:"type" json:"type" toml:"type"`
	Title       string    `yaml:"title,omitempty" json:"title,omitempty" toml:"title"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty" toml:"description"`
	Default     any       `yaml:"default,omitempty" json:"default,omitempty" toml:"default"`
	Enum        []any     `yaml:"enum,omitempty" json:"enum,omitempty" toml:"enum"`
	Minimum     *float64  `yaml:"minimum,omitempty" json:"minimum,omitempty" toml:"minimum"`
	Maximum     *float64  `yaml:"maximum,omitempty" json:"maximum,omitempty" toml:"maximum"`

	ItemsFormat    string `yaml:"items_format,omitempty" json:"items_format,omitempty" toml:"items_format"`
	IsURIFormatted bool   `yaml:"uri,omitempty" json:"uri,omitempty" toml:"uri"`

	DisplayOrder *int        `yaml:"x-order,omitempty" json:"x-order,omitempty" toml:"x-order"`
	UIComponent  UIComponent `yaml:"ui_component,omitempty" json:"ui_component,omitempty" toml:"ui_component"`
	GridColumn   int         `yaml:"grid_column,omitempty" json:"grid_column,omitempty" toml:"grid_column"`

	DependsOnField string `yaml:"depends_on_field,omitempty" json:"depends_on_field,omitempty" toml:"depends_on_field"`
	DependsOnValue any    `yaml:"depends_on_value,omitempty" json:"depends_on_value,omitempty" toml:"depends_on_value"`

	UIFieldName  string `yaml:"ui_field,omitempty" json:"ui_field,omitempty" toml:"ui_field"`
	APIFieldName string `yaml:"api_field,omitempty" json:"api_field,omitempty" toml:"api_field"`
}

// Clone returns a copy that shares no pointers or slices with p.
func (p *ParameterDescriptor) Clone() *ParameterDescriptor {
	c := *p
	c.Enum = slices.Clone(p.Enum)
	if p.Minimum != nil {
		v := *p.Minimum
		c.Minimum = &v
	}
	if p.Maximum != nil {
		v := *p.Maximum
		c.Maximum = &v
	}
	if p.DisplayOrder != nil {
		v := *p.DisplayOrder
		c.DisplayOrder = &v
	}
	return &c
}

// IsImage reports whether the field holds image references, single or list.
func (p *ParameterDescriptor) IsImage() bool {
	if p.Kind == KindArray {
		return p.ItemsFormat == FormatImageURI || p.IsURIFormatted
	}
	return p.IsURIFormatted
}

// IsImageList reports whether the field holds a list of image references.
func (p *ParameterDescriptor) IsImageList() bool {
	return p.Kind == KindArray && p.IsImage()
}

// Property is a named descriptor, as returned by ordered iteration.
type Property struct {
	Name       string               `json:"name"`
	Descriptor *ParameterDescriptor `json:"descriptor"`
}

// Properties is an ordered mapping from property name to descriptor. The
// declaration order of the source file is kept: it breaks display order ties.
type Properties struct {
	names  []string
	byName map[string]*ParameterDescriptor
}

// NewProperties builds Properties from an explicit ordered list.
func NewProperties(props ...Property) Properties {
	var p Properties
	for _, prop := range props {
		p.Set(prop.Name, prop.Descriptor)
	}
	return p
}

// Get returns the descriptor for a property name.
func (p Properties) Get(name string) (*ParameterDescriptor, bool) {
	d, ok := p.byName[name]
	return d, ok
}

// Set adds or replaces a property. New names are appended.
func (p *Properties) Set(name string, d *ParameterDescriptor) {
	if p.byName == nil {
		p.byName = make(map[string]*ParameterDescriptor)
	}
	if _, exists := p.byName[name]; !exists {
		p.names = append(p.names, name)
	}
	p.byName[name] = d
}

// Names returns the property names in declaration order.
func (p Properties) Names() []string {
	return append([]string(nil), p.names...)
}

// List returns the properties in declaration order.
func (p Properties) List() []Property {
	out := make([]Property, 0, len(p.names))
	for _, n := range p.names {
		out = append(out, Property{Name: n, Descriptor: p.byName[n]})
	}
	return out
}

// Len returns the number of properties.
func (p Properties) Len() int {
	return len(p.names)
}

func (p *Properties) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("properties must be a mapping, line %d", value.Line)
	}
	*p = Properties{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		d := &ParameterDescriptor{}
		if err := value.Content[i+1].Decode(d); err != nil {
			return fmt.Errorf("property %q: %w", value.Content[i].Value, err)
		}
		p.Set(value.Content[i].Value, d)
	}
	return nil
}

func (p Properties) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, prop := range p.List() {
		val := &yaml.Node{}
		if err := val.Encode(prop.Descriptor); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: prop.Name}, val)
	}
	return node, nil
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	*p = Properties{}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		d := &ParameterDescriptor{}
		if err := dec.Decode(d); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		p.Set(name, d)
	}
	_, err = dec.Token()
	return err
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p.List() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(prop.Name)
		v, err := json.Marshal(prop.Descriptor)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UIField returns the Parameter Store key of a property.
func (c *ModelSchema) UIField(name string) string {
	if d, ok := c.Properties.Get(name); ok && d.UIFieldName != "" {
		return d.UIFieldName
	}
	return name
}

// APIField returns the outbound payload key of a property.
func (c *ModelSchema) APIField(name string) string {
	if d, ok := c.Properties.Get(name); ok && d.APIFieldName != "" {
		return d.APIFieldName
	}
	return name
}

// PropertyByUIField resolves a Parameter Store key back to its property.
func (c *ModelSchema) PropertyByUIField(uiField string) (string, *ParameterDescriptor, bool) {
	for _, prop := range c.Properties.List() {
		if c.UIField(prop.Name) == uiField {
			return prop.Name, prop.Descriptor, true
		}
	}
	return "", nil, false
}

// IsVideo reports whether the model produces videos.
func (c *ModelSchema) IsVideo() bool {
	return c.Category == CategoryVideo
}

// DisplayName returns the human name, falling back to the id.
func (c *ModelSchema) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// SourceFile returns the file the schema was loaded from, empty for built-ins.
func (c *ModelSchema) SourceFile() string {
	return c.modelSchemaFile
}

func (c *ModelSchema) SetDefaults() {
	if c.Category == "" {
		c.Category = CategoryImage
	}
	for _, prop := range c.Properties.List() {
		d := prop.Descriptor
		if d.Kind == "" {
			d.Kind = KindString
		}
		if d.Title == "" {
			d.Title = prop.Name
		}
		if d.Kind == KindArray && d.ItemsFormat == "" && d.IsURIFormatted {
			d.ItemsFormat = FormatImageURI
		}
	}
}

var schemaIDRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Validate checks the registry invariants: every required name is a declared
// property and UI field names are unique.
func (c *ModelSchema) Validate() (bool, error) {
	if c.ID == "" {
		return false, fmt.Errorf("model schema has no id")
	}
	if !schemaIDRe.MatchString(c.ID) {
		return false, fmt.Errorf("invalid model schema id: %s", c.ID)
	}
	if c.Category != "" && c.Category != CategoryImage && c.Category != CategoryVideo {
		return false, fmt.Errorf("model schema %s: unknown category %q", c.ID, c.Category)
	}
	for _, r := range c.Required {
		if _, ok := c.Properties.Get(r); !ok {
			return false, fmt.Errorf("model schema %s: required field %q is not a declared property", c.ID, r)
		}
	}
	seen := make(map[string]string, c.Properties.Len())
	for _, prop := range c.Properties.List() {
		ui := c.UIField(prop.Name)
		if other, dup := seen[ui]; dup {
			return false, fmt.Errorf("model schema %s: properties %q and %q share ui field %q", c.ID, other, prop.Name, ui)
		}
		seen[ui] = prop.Name

		d := prop.Descriptor
		switch d.Kind {
		case "", KindString, KindInteger, KindNumber, KindBoolean, KindArray, KindObject:
		default:
			return false, fmt.Errorf("model schema %s: property %q has unknown type %q", c.ID, prop.Name, d.Kind)
		}
		if d.UIComponent != "" && !d.UIComponent.Valid() {
			return false, fmt.Errorf("model schema %s: property %q has unknown ui component %q", c.ID, prop.Name, d.UIComponent)
		}
		if d.GridColumn != 0 && d.GridColumn != 1 && d.GridColumn != 2 {
			return false, fmt.Errorf("model schema %s: property %q grid column must be 1 or 2", c.ID, prop.Name)
		}
		if d.DependsOnField != "" {
			if _, ok := c.Properties.Get(d.DependsOnField); !ok {
				return false, fmt.Errorf("model schema %s: property %q depends on unknown field %q", c.ID, prop.Name, d.DependsOnField)
			}
		}
	}
	return true, nil
}
