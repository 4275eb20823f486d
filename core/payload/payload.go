// Package payload converts a Parameter Store into the flat multipart body sent
// to the generation endpoint, and rebuilds a typed store from such a body.
//
// Lists of images are flattened as <field>_count plus <field>_<i>_dataUrl,
// <field>_<i>_name and <field>_<i>_type. The receiving side rebuilds the
// list in index order 0..count-1.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"

	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/params"
)

// Field is a text part of the payload.
type Field struct {
	Name  string
	Value string
}

// File is a binary part of the payload.
type File struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

// Payload is an ordered multipart body.
type Payload struct {
	Fields []Field
	Files  []File
}

// Get returns the value of a text part.
func (p *Payload) Get(name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// File returns a binary part by field name.
func (p *Payload) File(name string) (File, bool) {
	for _, f := range p.Files {
		if f.FieldName == name {
			return f, true
		}
	}
	return File{}, false
}

// Names returns every part name, text parts first.
func (p *Payload) Names() []string {
	out := make([]string, 0, len(p.Fields)+len(p.Files))
	for _, f := range p.Fields {
		out = append(out, f.Name)
	}
	for _, f := range p.Files {
		out = append(out, f.FieldName)
	}
	return out
}

func (p *Payload) add(name, value string) {
	p.Fields = append(p.Fields, Field{Name: name, Value: value})
}

// Serialize builds the transport payload. It walks the schema, not the store,
// so unknown store keys never leave the process, and empty values are
// skipped. The caller is expected to have run config.ValidateAll first:
// missing required values are silently omitted here.
func Serialize(s *config.ModelSchema, store *params.Store) *Payload {
	p := &Payload{}
	for _, prop := range s.Properties.List() {
		v, ok := store.Get(s.UIField(prop.Name))
		if !ok || params.IsEmpty(v) {
			continue
		}
		api := s.APIField(prop.Name)

		switch t := v.(type) {
		case []params.ImageReference:
			p.add(api+"_count", strconv.Itoa(len(t)))
			for i, ref := range t {
				p.add(fmt.Sprintf("%s_%d_dataUrl", api, i), ref.DataURL)
				p.add(fmt.Sprintf("%s_%d_name", api, i), ref.Name)
				p.add(fmt.Sprintf("%s_%d_type", api, i), ref.MimeType)
			}
		case params.ImageReference:
			data, err := t.Bytes()
			if err != nil {
				// not decodable: ship the reference as text
				p.add(api, t.DataURL)
				continue
			}
			p.Files = append(p.Files, File{
				FieldName:   api,
				FileName:    t.Name,
				ContentType: t.MimeType,
				Data:        data,
			})
		default:
			p.add(api, stringify(v))
		}
	}
	return p
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

// WriteMultipart encodes the payload and returns the content type to send it
// with.
func (p *Payload) WriteMultipart(w io.Writer) (string, error) {
	mw := multipart.NewWriter(w)
	for _, f := range p.Fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return "", err
		}
	}
	for _, f := range p.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.FieldName, f.FileName))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

// Encode returns the multipart body in memory.
func (p *Payload) Encode() ([]byte, string, error) {
	var buf bytes.Buffer
	ct, err := p.WriteMultipart(&buf)
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), ct, nil
}
