package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/params"
)

// Decode is the receiving boundary: it rebuilds a typed store, keyed by UI
// field name, from a multipart form in the flattened transport format.
// Parts that do not belong to a schema property are ignored.
func Decode(s *config.ModelSchema, form *multipart.Form) (*params.Store, error) {
	store := params.NewStore()
	for _, prop := range s.Properties.List() {
		api := s.APIField(prop.Name)
		ui := s.UIField(prop.Name)
		d := prop.Descriptor

		switch {
		case d.IsImageList():
			refs, err := decodeImageList(api, form)
			if err != nil {
				return nil, err
			}
			if len(refs) > 0 {
				store.Set(ui, refs)
			}
		case d.IsImage():
			if files := form.File[api]; len(files) > 0 {
				ref, err := params.ImageReferenceFromFile(files[0])
				if err != nil {
					return nil, err
				}
				store.Set(ui, ref)
				continue
			}
			v := first(form.Value[api])
			if v == "" {
				continue
			}
			if params.IsDataURL(v) {
				mime, data, err := params.ParseDataURL(v)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", api, err)
				}
				store.Set(ui, params.NewImageReference(api, mime, data))
				continue
			}
			// a remote URL is passed through as is
			store.Set(ui, v)
		default:
			raw, ok := form.Value[api]
			if !ok || first(raw) == "" {
				continue
			}
			v, err := parseScalar(d, first(raw))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", api, err)
			}
			store.Set(ui, v)
		}
	}
	return store, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func decodeImageList(api string, form *multipart.Form) ([]params.ImageReference, error) {
	var refs []params.ImageReference
	if countStr := first(form.Value[api+"_count"]); countStr != "" {
		count, err := strconv.Atoi(countStr)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("field %s_count: invalid count %q", api, countStr)
		}
		for i := 0; i < count; i++ {
			prefix := fmt.Sprintf("%s_%d_", api, i)
			dataURL := first(form.Value[prefix+"dataUrl"])
			if dataURL == "" {
				return nil, fmt.Errorf("field %s: missing image %d of %d", api, i, count)
			}
			refs = append(refs, params.ImageReference{
				DataURL:  dataURL,
				Name:     first(form.Value[prefix+"name"]),
				MimeType: first(form.Value[prefix+"type"]),
			})
		}
	}
	// plain file parts are accepted too, appended after the indexed entries
	for _, fh := range form.File[api] {
		ref, err := params.ImageReferenceFromFile(fh)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// parseScalar restores the type a text part had before stringification.
// Unparsable numbers are kept as text for validation to report.
func parseScalar(d *config.ParameterDescriptor, v string) (any, error) {
	switch d.Kind {
	case config.KindInteger:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return int(i), nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
		return v, nil
	case config.KindNumber:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
		return v, nil
	case config.KindBoolean:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", v)
		}
		return b, nil
	case config.KindArray, config.KindObject:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
			dec.UseNumber()
			var out any
			if err := dec.Decode(&out); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return v, nil
}

// APIInput maps a store to the JSON input of the generation service: API
// field names, images as data URIs.
func APIInput(s *config.ModelSchema, store *params.Store) map[string]any {
	input := config.MapStoreToPayload(s, store)
	for k, v := range input {
		switch t := v.(type) {
		case params.ImageReference:
			input[k] = t.DataURL
		case []params.ImageReference:
			urls := make([]string, 0, len(t))
			for _, r := range t {
				urls = append(urls, r.DataURL)
			}
			input[k] = urls
		}
	}
	return input
}
