package form

import (
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/params"
)

// Option is one choice of an enum-backed control.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Control describes how a field is presented to the client.
type Control struct {
	InputType string   `json:"input_type"`
	Options   []Option `json:"options,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Step      float64  `json:"step,omitempty"`
	Multiple  bool     `json:"multiple,omitempty"`
	Accept    string   `json:"accept,omitempty"`
	Rows      int      `json:"rows,omitempty"`
}

// Strategy renders and collects one UI component kind.
type Strategy interface {
	Control(d *config.ParameterDescriptor) Control
	// Collect turns raw submitted form input into a typed store value. A nil
	// value with a nil error means the field was left empty.
	Collect(d *config.ParameterDescriptor, values []string, files []*multipart.FileHeader) (any, error)
}

var strategies = map[config.UIComponent]Strategy{
	config.ComponentTextarea:         textStrategy{inputType: "textarea", rows: 4},
	config.ComponentTextInput:        textStrategy{inputType: "text"},
	config.ComponentImageUpload:      imageStrategy{},
	config.ComponentMultiImageUpload: imageStrategy{multiple: true},
	config.ComponentToggle:           toggleStrategy{},
	config.ComponentSlider:           numberStrategy{inputType: "range"},
	config.ComponentNumberInput:      numberStrategy{inputType: "number"},
	config.ComponentSelect:           choiceStrategy{inputType: "select"},
	config.ComponentButtonGroup:      choiceStrategy{inputType: "button-group"},
}

// StrategyFor returns the strategy of a component. Every valid component has
// one; unknown ones fall back to a text input.
func StrategyFor(c config.UIComponent) Strategy {
	if s, ok := strategies[c]; ok {
		return s
	}
	return strategies[config.ComponentTextInput]
}

func firstValue(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	v := strings.TrimSpace(values[0])
	return v, v != ""
}

type textStrategy struct {
	inputType string
	rows      int
}

func (s textStrategy) Control(d *config.ParameterDescriptor) Control {
	return Control{InputType: s.inputType, Rows: s.rows}
}

func (s textStrategy) Collect(d *config.ParameterDescriptor, values []string, _ []*multipart.FileHeader) (any, error) {
	if len(values) == 0 || values[0] == "" {
		return nil, nil
	}
	if d.Kind.IsNumeric() {
		return parseNumber(d, values[0])
	}
	return values[0], nil
}

type numberStrategy struct {
	inputType string
}

func (s numberStrategy) Control(d *config.ParameterDescriptor) Control {
	step := 1.0
	if d.Kind == config.KindNumber {
		step = 0.01
		if d.Minimum != nil && d.Maximum != nil && *d.Maximum-*d.Minimum > 10 {
			step = 0.1
		}
	}
	return Control{InputType: s.inputType, Min: d.Minimum, Max: d.Maximum, Step: step}
}

func (s numberStrategy) Collect(d *config.ParameterDescriptor, values []string, _ []*multipart.FileHeader) (any, error) {
	v, ok := firstValue(values)
	if !ok {
		return nil, nil
	}
	return parseNumber(d, v)
}

// parseNumber keeps unparsable text as is so validation can report it.
func parseNumber(d *config.ParameterDescriptor, v string) (any, error) {
	if d.Kind == config.KindInteger {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return int(i), nil
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, nil
	}
	return v, nil
}

type toggleStrategy struct{}

func (toggleStrategy) Control(*config.ParameterDescriptor) Control {
	return Control{InputType: "checkbox"}
}

func (toggleStrategy) Collect(_ *config.ParameterDescriptor, values []string, _ []*multipart.FileHeader) (any, error) {
	v, ok := firstValue(values)
	if !ok {
		return false, nil
	}
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

type choiceStrategy struct {
	inputType string
}

func (s choiceStrategy) Control(d *config.ParameterDescriptor) Control {
	c := Control{InputType: s.inputType}
	for _, e := range d.Enum {
		c.Options = append(c.Options, Option{Label: fmt.Sprint(e), Value: e})
	}
	return c
}

// Collect maps the submitted text back to the enum entry it names, so numeric
// enums keep their type.
func (s choiceStrategy) Collect(d *config.ParameterDescriptor, values []string, _ []*multipart.FileHeader) (any, error) {
	v, ok := firstValue(values)
	if !ok {
		return nil, nil
	}
	for _, e := range d.Enum {
		if fmt.Sprint(e) == v {
			return e, nil
		}
	}
	if d.Kind.IsNumeric() {
		return parseNumber(d, v)
	}
	return v, nil
}

type imageStrategy struct {
	multiple bool
}

func (s imageStrategy) Control(*config.ParameterDescriptor) Control {
	return Control{InputType: "file", Accept: "image/*", Multiple: s.multiple}
}

// Collect reads uploaded files. Already encoded data URIs may be submitted as
// plain values, which is how an auto-attached image comes back.
func (s imageStrategy) Collect(_ *config.ParameterDescriptor, values []string, files []*multipart.FileHeader) (any, error) {
	var refs []params.ImageReference
	for _, fh := range files {
		ref, err := params.ImageReferenceFromFile(fh)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if !params.IsDataURL(v) {
			return nil, fmt.Errorf("image value must be an uploaded file or a data URI")
		}
		mime, data, err := params.ParseDataURL(v)
		if err != nil {
			return nil, err
		}
		refs = append(refs, params.NewImageReference("image", mime, data))
	}

	if s.multiple {
		if refs == nil {
			return []params.ImageReference{}, nil
		}
		return refs, nil
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs[0], nil
}
