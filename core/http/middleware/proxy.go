package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const contextKeyForwardedPrefix = "forwarded_prefix"

// StripPathPrefix removes the X-Forwarded-Prefix a reverse proxy mounted the
// API under, so routes match. Register it with e.Pre: it rewrites the path
// before routing.
func StripPathPrefix() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			for _, prefix := range req.Header.Values("X-Forwarded-Prefix") {
				if prefix == "" {
					continue
				}
				trimmed := strings.TrimSuffix(prefix, "/")
				if req.URL.Path == trimmed {
					return c.Redirect(http.StatusFound, trimmed+"/")
				}
				if !strings.HasPrefix(req.URL.Path, trimmed+"/") {
					continue
				}
				rest := strings.TrimPrefix(req.URL.Path, trimmed)
				req.URL.Path = rest
				req.URL.RawPath = ""
				req.RequestURI = req.URL.RequestURI()
				c.Set(contextKeyForwardedPrefix, trimmed)
				break
			}
			return next(c)
		}
	}
}

// BaseURL is the external URL of the API root, ending with a slash. It honors
// X-Forwarded-Proto, X-Forwarded-Host and the prefix StripPathPrefix removed.
func BaseURL(c echo.Context) string {
	req := c.Request()
	scheme := "http"
	if req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := req.Host
	if fh := req.Header.Get("X-Forwarded-Host"); fh != "" {
		host = fh
	}
	prefix, _ := c.Get(contextKeyForwardedPrefix).(string)
	return scheme + "://" + host + prefix + "/"
}

// AbsoluteURL resolves a root-relative URL, like the ones of the local output
// store, against BaseURL. Anything else is returned unchanged.
func AbsoluteURL(c echo.Context, ref string) string {
	if !strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "//") {
		return ref
	}
	return strings.TrimSuffix(BaseURL(c), "/") + ref
}
