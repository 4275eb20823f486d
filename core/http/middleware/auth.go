package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/schema"
	"github.com/mudler/xlog"
)

const (
	// ContextKeyOwner holds the authenticated principal, the tenant every
	// workspace and chat timeline belongs to.
	ContextKeyOwner = "owner"
	// AnonymousOwner is used when authentication is disabled.
	AnonymousOwner = "default"
)

var errInvalidCredentials = errors.New("invalid API key or token")

// Owner returns the principal of the request.
func Owner(c echo.Context) string {
	if o, ok := c.Get(ContextKeyOwner).(string); ok && o != "" {
		return o
	}
	return AnonymousOwner
}

// Authenticator accepts static API keys and, when configured, OIDC ID tokens.
// API keys are either "name=key", authenticating as name, or a bare key,
// authenticating as a name derived from its hash.
type Authenticator struct {
	appConfig *config.ApplicationConfig
	verifier  *oidc.IDTokenVerifier
}

func NewAuthenticator(appConfig *config.ApplicationConfig, verifier *oidc.IDTokenVerifier) *Authenticator {
	return &Authenticator{appConfig: appConfig, verifier: verifier}
}

// NewOIDCVerifier discovers the issuer. An empty clientID skips the audience
// check.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID, SkipClientIDCheck: clientID == ""}), nil
}

func (a *Authenticator) enabled() bool {
	return a.verifier != nil || len(a.appConfig.GetApiKeys()) > 0
}

func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper:      a.skip,
		KeyLookup:    "header:" + echo.HeaderAuthorization + ",header:x-api-key,cookie:token",
		AuthScheme:   "Bearer",
		Validator:    a.validate,
		ErrorHandler: a.unauthorized,
	})
}

func (a *Authenticator) skip(c echo.Context) bool {
	if !a.enabled() {
		return true
	}
	path := c.Request().URL.Path
	if path == "/healthz" || path == "/readyz" {
		return true
	}
	if a.appConfig.DisableApiKeyRequirementForHttpGet && c.Request().Method == http.MethodGet {
		for _, rx := range a.appConfig.HttpGetExemptedEndpoints {
			if rx.MatchString(path) {
				return true
			}
		}
	}
	return false
}

func (a *Authenticator) validate(key string, c echo.Context) (bool, error) {
	if owner, ok := a.matchKey(key); ok {
		c.Set(ContextKeyOwner, owner)
		return true, nil
	}
	if a.verifier != nil {
		owner, err := a.verifyToken(c.Request().Context(), key)
		if err == nil {
			c.Set(ContextKeyOwner, owner)
			return true, nil
		}
		xlog.Debug("Rejected bearer token", "error", err)
	}
	return false, errInvalidCredentials
}

func (a *Authenticator) matchKey(key string) (string, bool) {
	for _, entry := range a.appConfig.GetApiKeys() {
		name, valid := ParseAPIKey(entry)
		if a.equal(key, valid) {
			return name, true
		}
	}
	return "", false
}

func (a *Authenticator) equal(got, want string) bool {
	if a.appConfig.UseSubtleKeyComparison {
		return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
	}
	return got == want
}

// ParseAPIKey splits a configured key into its principal and secret.
func ParseAPIKey(entry string) (name, key string) {
	if n, k, ok := strings.Cut(entry, "="); ok && n != "" && k != "" {
		return n, k
	}
	sum := sha256.Sum256([]byte(entry))
	return "key-" + hex.EncodeToString(sum[:])[:12], entry
}

type idClaims struct {
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

func (a *Authenticator) verifyToken(ctx context.Context, raw string) (string, error) {
	token, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	var claims idClaims
	if err := token.Claims(&claims); err != nil {
		return "", err
	}
	switch {
	case claims.Email != "":
		return claims.Email, nil
	case claims.PreferredUsername != "":
		return claims.PreferredUsername, nil
	}
	return token.Subject, nil
}

func (a *Authenticator) unauthorized(err error, c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	if a.appConfig.OpaqueErrors {
		return c.NoContent(http.StatusUnauthorized)
	}
	msg := "An authentication key is required"
	if errors.Is(err, errInvalidCredentials) {
		msg = err.Error()
	}
	return c.JSON(http.StatusUnauthorized, schema.ErrorResponse{
		Error: &schema.APIError{
			Message: msg,
			Code:    http.StatusUnauthorized,
			Type:    schema.ErrorTypeAuthentication,
		},
	})
}
