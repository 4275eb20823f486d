package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"

	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/payload"
)

// maxFormMemory bounds what ReadForm keeps in memory before spilling parts
// to temporary files.
const maxFormMemory = 32 << 20

// Generator is the boundary with the external generation service. It never
// retries and honours ctx only for its own transport.
type Generator interface {
	Generate(ctx context.Context, s *config.ModelSchema, p *payload.Payload) (*Output, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, s *config.ModelSchema, p *payload.Payload) (*Output, error)

func (f GeneratorFunc) Generate(ctx context.Context, s *config.ModelSchema, p *payload.Payload) (*Output, error) {
	return f(ctx, s, p)
}

// Output is what a settled generation produced.
type Output struct {
	Outputs      []string `json:"outputs"`
	IsVideo      bool     `json:"isVideo"`
	Seed         *int64   `json:"seed,omitempty"`
	PredictionID string   `json:"predictionId,omitempty"`
}

// ErrorData is the structured body the service reports failures with.
type ErrorData struct {
	Error string `json:"error"`
}

// Error is a generation failure carrying the service's structured error.
type Error struct {
	StatusCode int       `json:"status,omitempty"`
	Data       ErrorData `json:"data"`
	Err        error     `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Data.Error != "":
		return e.Data.Error
	case e.Err != nil:
		return e.Err.Error()
	}
	return fmt.Sprintf("generation failed with status %d", e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err carries a structured service error.
func IsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ReadPayload parses an encoded payload back into a multipart form, as the
// receiving side of the transport sees it. Callers must RemoveAll the form.
func ReadPayload(p *payload.Payload) (*multipart.Form, error) {
	body, contentType, err := p.Encode()
	if err != nil {
		return nil, err
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}
	return multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(maxFormMemory)
}
