package replicate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

type Prediction struct {
	ID      string         `json:"id"`
	Model   string         `json:"model,omitempty"`
	Version string         `json:"version,omitempty"`
	Status  Status         `json:"status"`
	Input   map[string]any `json:"input,omitempty"`
	Output  any            `json:"output,omitempty"`
	Error   any            `json:"error,omitempty"`
	Logs    string         `json:"logs,omitempty"`
	URLs    struct {
		Get    string `json:"get,omitempty"`
		Cancel string `json:"cancel,omitempty"`
	} `json:"urls"`
	Metrics struct {
		PredictTime float64 `json:"predict_time,omitempty"`
	} `json:"metrics"`
}

// Outputs flattens the output into a list of URLs or data URIs. Models
// return a single string, a list of strings, or objects carrying a url.
func (p *Prediction) Outputs() []string {
	return flatten(p.Output)
}

func flatten(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, flatten(item)...)
		}
		return out
	case []string:
		var out []string
		for _, s := range t {
			out = append(out, flatten(s)...)
		}
		return out
	case map[string]any:
		for _, k := range []string{"url", "uri", "image", "video"} {
			if s, ok := t[k].(string); ok && s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

var seedLog = regexp.MustCompile(`(?i)(?:using\s+)?seed[:=\s]+(-?\d+)`)

// Seed returns the seed the model used: the one reported in the logs, else
// the one sent in the input.
func (p *Prediction) Seed() *int64 {
	if m := seedLog.FindStringSubmatch(p.Logs); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return &n
		}
	}
	switch t := p.Input["seed"].(type) {
	case float64:
		n := int64(t)
		return &n
	case int:
		n := int64(t)
		return &n
	case int64:
		return &t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return &n
		}
	}
	return nil
}

// ErrorMessage renders the prediction error field, which may be a string or
// an object.
func (p *Prediction) ErrorMessage() string {
	switch t := p.Error.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		for _, k := range []string{"detail", "message", "error"} {
			if s, ok := t[k].(string); ok {
				return s
			}
		}
	}
	b, err := json.Marshal(p.Error)
	if err != nil {
		return fmt.Sprint(p.Error)
	}
	return strings.Trim(string(b), `"`)
}
