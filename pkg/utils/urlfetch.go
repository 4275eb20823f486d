package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mudler/xlog"
)

var ErrTooLarge = errors.New("content exceeds the size limit")

// Fetcher downloads user or model supplied URLs. Unless AllowPrivate is set,
// URLs resolving to loopback, private or link-local addresses are refused so
// they cannot be used to reach internal services.
type Fetcher struct {
	Client       *http.Client
	MaxBytes     int64
	AllowPrivate bool
}

func NewFetcher(maxBytes int64) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: 60 * time.Second},
		MaxBytes: maxBytes,
	}
}

// Fetch downloads url and returns its body and content type.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if !f.AllowPrivate {
		if err := ValidateExternalURL(rawURL); err != nil {
			return nil, "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, "", fmt.Errorf("%w: %s", ErrTooLarge, rawURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	xlog.Debug("Fetched remote content", "url", rawURL, "bytes", len(data), "type", contentType)
	return data, contentType, nil
}

// ValidateExternalURL refuses non http(s) URLs and hosts resolving to
// internal addresses.
func ValidateExternalURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s", scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case host == "":
		return fmt.Errorf("URL has no hostname")
	case host == "localhost", strings.HasSuffix(host, ".local"):
		return fmt.Errorf("requests to internal hosts are not allowed")
	case host == "metadata.google.internal", host == "instance-data":
		return fmt.Errorf("requests to cloud metadata services are not allowed")
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("failed to resolve hostname: %w", err)
	}
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil {
			return fmt.Errorf("unable to parse resolved IP: %s", s)
		}
		if !isPublicIP(ip) {
			return fmt.Errorf("requests to internal network addresses are not allowed")
		}
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return !ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsPrivate() &&
		!ip.IsUnspecified()
}
