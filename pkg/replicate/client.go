// Package replicate is a small client for the Replicate predictions API:
// create a prediction, wait for it to settle and normalize what it produced.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mudler/xlog"
)

const (
	DefaultBaseURL = "https://api.replicate.com/v1"
	// Replicate holds the create request open up to this many seconds.
	defaultWait = 60
)

type Client struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	wait         int
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithWait sets the Prefer: wait duration in seconds, 0 disables it.
func WithWait(seconds int) Option {
	return func(c *Client) {
		c.wait = seconds
	}
}

func New(token string, opts ...Option) *Client {
	c := &Client{
		token:        token,
		baseURL:      DefaultBaseURL,
		httpClient:   http.DefaultClient,
		pollInterval: time.Second,
		wait:         defaultWait,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// CreatePrediction starts a prediction. model is "owner/name"; when version
// is set the version endpoint is used instead of the model one.
func (c *Client) CreatePrediction(ctx context.Context, model, version string, input map[string]any) (*Prediction, error) {
	endpoint := c.baseURL + "/predictions"
	body := createRequest{Version: version, Input: input}
	if version == "" {
		owner, name, ok := strings.Cut(model, "/")
		if !ok || owner == "" || name == "" {
			return nil, fmt.Errorf("invalid model %q, expected owner/name", model)
		}
		endpoint = fmt.Sprintf("%s/models/%s/%s/predictions", c.baseURL, owner, name)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.wait > 0 {
		req.Header.Set("Prefer", "wait="+strconv.Itoa(c.wait))
	}

	var p Prediction
	if err := c.do(req, &p); err != nil {
		return nil, err
	}
	xlog.Debug("Prediction created", "id", p.ID, "model", model, "status", p.Status)
	return &p, nil
}

// GetPrediction fetches a prediction by id or by its urls.get location.
func (c *Client) GetPrediction(ctx context.Context, idOrURL string) (*Prediction, error) {
	endpoint := idOrURL
	if !strings.HasPrefix(idOrURL, "http://") && !strings.HasPrefix(idOrURL, "https://") {
		endpoint = c.baseURL + "/predictions/" + idOrURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var p Prediction
	if err := c.do(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Wait polls a prediction until it reaches a terminal status or ctx ends.
func (c *Client) Wait(ctx context.Context, p *Prediction) (*Prediction, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for !p.Status.Terminal() {
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
		target := p.URLs.Get
		if target == "" {
			target = p.ID
		}
		next, err := c.GetPrediction(ctx, target)
		if err != nil {
			return p, err
		}
		if next.Status != p.Status {
			xlog.Debug("Prediction status changed", "id", next.ID, "from", p.Status, "to", next.Status)
		}
		p = next
	}
	return p, nil
}

// Run creates a prediction and waits for it. A prediction that does not
// succeed is returned as an *Error.
func (c *Client) Run(ctx context.Context, model, version string, input map[string]any) (*Prediction, error) {
	p, err := c.CreatePrediction(ctx, model, version, input)
	if err != nil {
		return nil, err
	}
	p, err = c.Wait(ctx, p)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusSucceeded {
		return p, &Error{
			Title:        "prediction " + string(p.Status),
			Detail:       p.ErrorMessage(),
			PredictionID: p.ID,
		}
	}
	return p, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding prediction: %w", err)
	}
	return nil
}
