package services

import (
	"strings"

	"github.com/mudler/genstudio/core/backend"
)

const defaultFailureMessage = "Generation failed"

// ValidationError blocks a dispatch. Errors keeps the order ValidateAll
// reported them in.
type ValidationError struct {
	Errors []string `json:"errors"`
}

func (e *ValidationError) Error() string {
	return "invalid parameters: " + strings.Join(e.Errors, "; ")
}

// ToUserMessage is the one place transport errors are turned into the text
// shown on a failed message: the service's structured error first, then the
// error itself, then a generic fallback.
func ToUserMessage(err error) string {
	if err == nil {
		return defaultFailureMessage
	}
	if e, ok := backend.IsError(err); ok && strings.TrimSpace(e.Data.Error) != "" {
		return e.Data.Error
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return defaultFailureMessage
}
