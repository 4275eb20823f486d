package replicate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Error is a failure reported by the API, either as a non 2xx response or
// as a prediction that did not succeed.
type Error struct {
	StatusCode   int    `json:"status,omitempty"`
	Title        string `json:"title,omitempty"`
	Detail       string `json:"detail,omitempty"`
	PredictionID string `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("replicate")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Title != "" {
		b.WriteString(": " + e.Title)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	return b.String()
}

// Message is the most specific human readable text of the error.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

func newAPIError(status int, body []byte) *Error {
	e := &Error{}
	if err := json.Unmarshal(body, e); err != nil || (e.Detail == "" && e.Title == "") {
		e.Detail = strings.TrimSpace(string(body))
	}
	e.StatusCode = status
	return e
}
