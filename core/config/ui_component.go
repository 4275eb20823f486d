package config

// UIComponent is the closed set of form controls a parameter can be rendered
// with.
type UIComponent string

const (
	ComponentTextarea         UIComponent = "textarea"
	ComponentImageUpload      UIComponent = "image-upload"
	ComponentMultiImageUpload UIComponent = "multi-image-upload"
	ComponentToggle           UIComponent = "toggle"
	ComponentSlider           UIComponent = "slider"
	ComponentSelect           UIComponent = "select"
	ComponentButtonGroup      UIComponent = "button-group"
	ComponentNumberInput      UIComponent = "number-input"
	ComponentTextInput        UIComponent = "text-input"
)

// maxButtonGroupOptions is the largest string enum rendered as a button group.
const maxButtonGroupOptions = 5

var allComponents = []UIComponent{
	ComponentTextarea,
	ComponentImageUpload,
	ComponentMultiImageUpload,
	ComponentToggle,
	ComponentSlider,
	ComponentSelect,
	ComponentButtonGroup,
	ComponentNumberInput,
	ComponentTextInput,
}

// AllUIComponents lists every known component.
func AllUIComponents() []UIComponent {
	return append([]UIComponent(nil), allComponents...)
}

func (u UIComponent) Valid() bool {
	for _, c := range allComponents {
		if c == u {
			return true
		}
	}
	return false
}

// InferComponent picks a control for a descriptor that carries no explicit
// hint. The rules are checked in order, first match wins.
func InferComponent(d *ParameterDescriptor) UIComponent {
	switch {
	case d.Kind == KindArray && d.IsImage():
		return ComponentMultiImageUpload
	case d.IsURIFormatted:
		return ComponentImageUpload
	case d.Kind == KindBoolean:
		return ComponentToggle
	case d.Kind.IsNumeric():
		if len(d.Enum) > 0 {
			return ComponentButtonGroup
		}
		return ComponentNumberInput
	case d.Kind == KindString && len(d.Enum) > 0:
		if len(d.Enum) <= maxButtonGroupOptions {
			return ComponentButtonGroup
		}
		return ComponentSelect
	}
	return ComponentTextInput
}

// Component returns the explicit hint when set, the inferred one otherwise.
func (p *ParameterDescriptor) Component() UIComponent {
	if p.UIComponent != "" {
		return p.UIComponent
	}
	return InferComponent(p)
}
