package params

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
)

var dataURIPattern = regexp.MustCompile(`^data:([^;,]+)?(;base64)?,`)

// ImageReference wraps an image as a data URI plus its original file metadata.
// It is a value object: copy it, never share a pointer to it.
type ImageReference struct {
	DataURL  string `json:"dataUrl" yaml:"dataUrl"`
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mimeType" yaml:"mimeType"`
}

// NewImageReference encodes raw bytes into an ImageReference. When mimeType is
// empty it is sniffed from the content.
func NewImageReference(name, mimeType string, data []byte) ImageReference {
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return ImageReference{
		DataURL:  fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
		Name:     name,
		MimeType: mimeType,
	}
}

// ImageReferenceFromFile reads an uploaded multipart file into an ImageReference.
func ImageReferenceFromFile(fh *multipart.FileHeader) (ImageReference, error) {
	f, err := fh.Open()
	if err != nil {
		return ImageReference{}, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return ImageReference{}, fmt.Errorf("failed to read upload %q: %w", fh.Filename, err)
	}
	return NewImageReference(fh.Filename, fh.Header.Get("Content-Type"), data), nil
}

// IsZero reports whether the reference carries no image data.
func (r ImageReference) IsZero() bool {
	return r.DataURL == ""
}

// Bytes decodes the data URI back into raw bytes.
func (r ImageReference) Bytes() ([]byte, error) {
	_, data, err := ParseDataURL(r.DataURL)
	return data, err
}

// ParseDataURL splits a data URI into its mime type and decoded payload.
func ParseDataURL(s string) (string, []byte, error) {
	match := dataURIPattern.FindStringSubmatch(s)
	if match == nil {
		return "", nil, fmt.Errorf("not a data URI")
	}
	mimeType := match[1]
	if mimeType == "" {
		mimeType = "text/plain"
	}
	body := s[len(match[0]):]
	if match[2] == "" {
		return mimeType, []byte(body), nil
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 payload in data URI: %w", err)
	}
	return mimeType, data, nil
}

// IsDataURL reports whether s is an inline data URI rather than a remote URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}
