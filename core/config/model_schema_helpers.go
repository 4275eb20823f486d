package config

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mudler/genstudio/core/params"
)

// ValidationResult is the outcome of validating a single value.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationReport is the outcome of validating a whole Parameter Store.
type ValidationReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func (r ValidationReport) Error() string {
	return strings.Join(r.Errors, "; ")
}

// IsRequired reports whether the property is listed in the schema's required set.
func IsRequired(s *ModelSchema, name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

func fieldTitle(name string, d *ParameterDescriptor) string {
	if d != nil && d.Title != "" {
		return d.Title
	}
	return name
}

// ValidateOne checks a single value against its descriptor. Checks run in
// order: required, emptiness, numeric coercion, bounds, enum membership.
func ValidateOne(s *ModelSchema, name string, value any) ValidationResult {
	d, ok := s.Properties.Get(name)
	if !ok {
		return ValidationResult{Valid: true}
	}
	title := fieldTitle(name, d)

	if params.IsEmpty(value) {
		if IsRequired(s, name) {
			return ValidationResult{Error: fmt.Sprintf("%s is required", title)}
		}
		return ValidationResult{Valid: true}
	}

	if d.Kind.IsNumeric() {
		n, ok := toFloat(value)
		if !ok {
			return ValidationResult{Error: fmt.Sprintf("%s must be a valid number", title)}
		}
		if d.Minimum != nil && n < *d.Minimum {
			return ValidationResult{Error: fmt.Sprintf("%s must be at least %s", title, formatNumber(*d.Minimum))}
		}
		if d.Maximum != nil && n > *d.Maximum {
			return ValidationResult{Error: fmt.Sprintf("%s must be at most %s", title, formatNumber(*d.Maximum))}
		}
	}

	if len(d.Enum) > 0 && d.Kind != KindBoolean {
		if !enumContains(d, value) {
			allowed := make([]string, 0, len(d.Enum))
			for _, e := range d.Enum {
				allowed = append(allowed, fmt.Sprint(e))
			}
			return ValidationResult{Error: fmt.Sprintf("%s must be one of: %s", title, strings.Join(allowed, ", "))}
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateAll validates every required field first, in schema declaration
// order, then every store entry that maps to a known property, in store
// insertion order. Identical messages are reported once. Fields hidden by
// their dependency are not validated.
func ValidateAll(s *ModelSchema, store *params.Store) ValidationReport {
	report := ValidationReport{Valid: true, Errors: []string{}}
	seen := map[string]struct{}{}
	add := func(r ValidationResult) {
		if r.Valid {
			return
		}
		report.Valid = false
		if _, dup := seen[r.Error]; dup {
			return
		}
		seen[r.Error] = struct{}{}
		report.Errors = append(report.Errors, r.Error)
	}

	for _, prop := range s.Properties.List() {
		if !IsRequired(s, prop.Name) || !IsFieldActive(s, prop.Name, store) {
			continue
		}
		v, _ := store.Get(s.UIField(prop.Name))
		add(ValidateOne(s, prop.Name, v))
	}

	for _, key := range store.Keys() {
		name, _, ok := s.PropertyByUIField(key)
		if !ok || !IsFieldActive(s, name, store) {
			continue
		}
		v, _ := store.Get(key)
		add(ValidateOne(s, name, v))
	}

	return report
}

// OrderedProperties sorts properties by display order. Ties keep declaration
// order and properties without a display order come last.
func OrderedProperties(s *ModelSchema) []Property {
	props := s.Properties.List()
	sort.SliceStable(props, func(i, j int) bool {
		return displayRank(props[i].Descriptor) < displayRank(props[j].Descriptor)
	})
	return props
}

func displayRank(d *ParameterDescriptor) int {
	if d.DisplayOrder == nil {
		return math.MaxInt
	}
	return *d.DisplayOrder
}

// IsFieldActive reports whether a property is visible given the current store.
// A property with a dependency is active only when the controlling field's
// stored value equals dependsOnValue, or is a member of it when it is a list.
func IsFieldActive(s *ModelSchema, name string, store *params.Store) bool {
	d, ok := s.Properties.Get(name)
	if !ok || d.DependsOnField == "" {
		return true
	}
	current, _ := store.Get(s.UIField(d.DependsOnField))
	if params.IsEmpty(current) {
		return false
	}
	if list, ok := d.DependsOnValue.([]any); ok {
		for _, want := range list {
			if valuesEqual(current, want) {
				return true
			}
		}
		return false
	}
	return valuesEqual(current, d.DependsOnValue)
}

// MapStoreToPayload copies every present, non-empty store value of a known
// property under its API field name.
func MapStoreToPayload(s *ModelSchema, store *params.Store) map[string]any {
	out := map[string]any{}
	for _, prop := range s.Properties.List() {
		ui := s.UIField(prop.Name)
		if !store.Has(ui) {
			continue
		}
		v, _ := store.Get(ui)
		out[s.APIField(prop.Name)] = v
	}
	return out
}

// Well known property names used for capability discovery.
const (
	FieldPrompt         = "prompt"
	FieldMask           = "mask"
	FieldNegativePrompt = "negative_prompt"
	FieldSeed           = "seed"
	FieldAspectRatio    = "aspect_ratio"
)

var (
	imageInputFields = []string{"image", "image_input", "input_image", "input_images", "image_prompt", "start_image", "first_frame_image", "reference_images"}
	numOutputsFields = []string{"num_outputs", "number_of_images", "num_images"}
)

// Capabilities summarizes what a schema exposes.
type Capabilities struct {
	ImageInput      bool   `json:"image_input"`
	MultipleImages  bool   `json:"multiple_images"`
	Inpainting      bool   `json:"inpainting"`
	NegativePrompt  bool   `json:"negative_prompt"`
	Seed            bool   `json:"seed"`
	AspectRatio     bool   `json:"aspect_ratio"`
	NumOutputs      bool   `json:"num_outputs"`
	ImageInputField string `json:"image_input_field,omitempty"`
}

func SchemaCapabilities(s *ModelSchema) Capabilities {
	name, _, _ := ImageInputField(s)
	return Capabilities{
		ImageInput:      SupportsImageInput(s),
		MultipleImages:  SupportsMultipleImages(s),
		Inpainting:      SupportsInpainting(s),
		NegativePrompt:  SupportsNegativePrompt(s),
		Seed:            SupportsSeed(s),
		AspectRatio:     SupportsAspectRatio(s),
		NumOutputs:      SupportsNumOutputs(s),
		ImageInputField: name,
	}
}

func hasAny(s *ModelSchema, names ...string) bool {
	for _, n := range names {
		if _, ok := s.Properties.Get(n); ok {
			return true
		}
	}
	return false
}

// ImageInputField returns the first property, in display order, that accepts
// an input image. The mask is never an input image.
func ImageInputField(s *ModelSchema) (string, *ParameterDescriptor, bool) {
	for _, prop := range OrderedProperties(s) {
		if prop.Name == FieldMask {
			continue
		}
		if prop.Descriptor.IsImage() || hasName(imageInputFields, prop.Name) {
			return prop.Name, prop.Descriptor, true
		}
	}
	return "", nil, false
}

func hasName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func SupportsImageInput(s *ModelSchema) bool {
	_, _, ok := ImageInputField(s)
	return ok
}

func SupportsMultipleImages(s *ModelSchema) bool {
	_, d, ok := ImageInputField(s)
	return ok && d.Kind == KindArray
}

func SupportsInpainting(s *ModelSchema) bool {
	return hasAny(s, FieldMask)
}

func SupportsNegativePrompt(s *ModelSchema) bool {
	return hasAny(s, FieldNegativePrompt)
}

func SupportsSeed(s *ModelSchema) bool {
	return hasAny(s, FieldSeed)
}

func SupportsAspectRatio(s *ModelSchema) bool {
	return hasAny(s, FieldAspectRatio)
}

func SupportsNumOutputs(s *ModelSchema) bool {
	return hasAny(s, numOutputsFields...)
}

// InitialValue resolves what a form control shows: the stored value, else the
// default, else the first enum entry, else nil.
func InitialValue(s *ModelSchema, name string, store *params.Store) any {
	d, ok := s.Properties.Get(name)
	if !ok {
		return nil
	}
	if v, ok := store.Get(s.UIField(name)); ok && !params.IsEmpty(v) {
		return v
	}
	if d.Default != nil {
		return d.Default
	}
	if len(d.Enum) > 0 {
		return d.Enum[0]
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

// ToFloat exposes the numeric coercion used by validation.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// normalize makes numbers compare by value and everything else by text.
func normalize(v any) string {
	switch v.(type) {
	case float64, float32, int, int64, int32, uint64, json.Number:
		if f, ok := toFloat(v); ok {
			return formatNumber(f)
		}
	case bool:
		return strconv.FormatBool(v.(bool))
	}
	return fmt.Sprint(v)
}

func valuesEqual(a, b any) bool {
	if b == nil {
		return a == nil
	}
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return true
	}
	// "2" in the store against a numeric 2
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	return okA && okB && fa == fb
}

func enumContains(d *ParameterDescriptor, value any) bool {
	for _, e := range d.Enum {
		if valuesEqual(value, e) {
			return true
		}
	}
	return false
}
