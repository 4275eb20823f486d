package middleware_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/config"
	. "github.com/mudler/genstudio/core/http/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const issuer = "https://id.example.com"

var _ = Describe("Authenticator", func() {
	var (
		appConfig *config.ApplicationConfig
		verifier  *oidc.IDTokenVerifier
		key       *rsa.PrivateKey
	)

	BeforeEach(func() {
		appConfig = config.NewApplicationConfig()
		verifier = nil
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).ToNot(HaveOccurred())
	})

	serve := func(req *http.Request) (int, string) {
		e := echo.New()
		e.Use(NewAuthenticator(appConfig, verifier).Middleware())
		var owner string
		handler := func(c echo.Context) error {
			owner = Owner(c)
			return c.NoContent(http.StatusOK)
		}
		e.GET("/api/workspace", handler)
		e.GET("/api/models", handler)
		e.GET("/healthz", handler)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code, owner
	}
	get := func(path, bearer string) (int, string) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		return serve(req)
	}
	sign := func(claims map[string]any) string {
		signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
		Expect(err).ToNot(HaveOccurred())
		payload, err := json.Marshal(claims)
		Expect(err).ToNot(HaveOccurred())
		obj, err := signer.Sign(payload)
		Expect(err).ToNot(HaveOccurred())
		raw, err := obj.CompactSerialize()
		Expect(err).ToNot(HaveOccurred())
		return raw
	}

	It("lets everyone in as the anonymous owner when nothing is configured", func() {
		code, owner := get("/api/workspace", "")
		Expect(code).To(Equal(http.StatusOK))
		Expect(owner).To(Equal(AnonymousOwner))
	})

	Context("with API keys", func() {
		BeforeEach(func() {
			appConfig.SetApiKeys([]string{"alice=s3cret", "bare-key"})
		})

		It("authenticates named keys as their principal", func() {
			code, owner := get("/api/workspace", "s3cret")
			Expect(code).To(Equal(http.StatusOK))
			Expect(owner).To(Equal("alice"))
		})

		It("derives a stable principal for bare keys", func() {
			code, owner := get("/api/workspace", "bare-key")
			Expect(code).To(Equal(http.StatusOK))
			name, _ := ParseAPIKey("bare-key")
			Expect(owner).To(Equal(name))
			Expect(owner).To(HavePrefix("key-"))
			Expect(owner).ToNot(ContainSubstring("bare-key"))
		})

		It("compares keys in constant time when asked to", func() {
			appConfig.UseSubtleKeyComparison = true
			code, _ := get("/api/workspace", "s3cret")
			Expect(code).To(Equal(http.StatusOK))
			code, _ = get("/api/workspace", "s3cre")
			Expect(code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects missing and wrong keys", func() {
			code, _ := get("/api/workspace", "")
			Expect(code).To(Equal(http.StatusUnauthorized))
			code, _ = get("/api/workspace", "nope")
			Expect(code).To(Equal(http.StatusUnauthorized))
		})

		It("reads the token cookie", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/workspace", nil)
			req.AddCookie(&http.Cookie{Name: "token", Value: "s3cret"})
			code, owner := serve(req)
			Expect(code).To(Equal(http.StatusOK))
			Expect(owner).To(Equal("alice"))
		})

		It("never guards health checks", func() {
			code, _ := get("/healthz", "")
			Expect(code).To(Equal(http.StatusOK))
		})

		It("exempts configured GET endpoints", func() {
			appConfig.DisableApiKeyRequirementForHttpGet = true
			appConfig.HttpGetExemptedEndpoints = []*regexp.Regexp{regexp.MustCompile(`^/api/models$`)}
			code, owner := get("/api/models", "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(owner).To(Equal(AnonymousOwner))
			code, _ = get("/api/workspace", "")
			Expect(code).To(Equal(http.StatusUnauthorized))
		})

		It("only sends the status with opaque errors", func() {
			appConfig.OpaqueErrors = true
			req := httptest.NewRequest(http.MethodGet, "/api/workspace", nil)
			e := echo.New()
			e.Use(NewAuthenticator(appConfig, nil).Middleware())
			e.GET("/api/workspace", func(c echo.Context) error { return nil })
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.Len()).To(BeZero())
		})
	})

	Context("with OIDC", func() {
		BeforeEach(func() {
			verifier = oidc.NewVerifier(issuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}},
				&oidc.Config{ClientID: "genstudio"})
		})

		claims := func(extra map[string]any) map[string]any {
			c := map[string]any{
				"iss": issuer,
				"aud": "genstudio",
				"sub": "user-123",
				"exp": time.Now().Add(time.Hour).Unix(),
				"iat": time.Now().Unix(),
			}
			for k, v := range extra {
				c[k] = v
			}
			return c
		}

		It("authenticates as the email of the token", func() {
			code, owner := get("/api/workspace", sign(claims(map[string]any{"email": "carol@example.com"})))
			Expect(code).To(Equal(http.StatusOK))
			Expect(owner).To(Equal("carol@example.com"))
		})

		It("falls back to the subject", func() {
			code, owner := get("/api/workspace", sign(claims(nil)))
			Expect(code).To(Equal(http.StatusOK))
			Expect(owner).To(Equal("user-123"))
		})

		It("rejects expired tokens and foreign audiences", func() {
			code, _ := get("/api/workspace", sign(claims(map[string]any{"exp": time.Now().Add(-time.Hour).Unix()})))
			Expect(code).To(Equal(http.StatusUnauthorized))
			code, _ = get("/api/workspace", sign(claims(map[string]any{"aud": "someone-else"})))
			Expect(code).To(Equal(http.StatusUnauthorized))
		})

		It("still accepts API keys", func() {
			appConfig.SetApiKeys([]string{"ops=k1"})
			code, owner := get("/api/workspace", "k1")
			Expect(code).To(Equal(http.StatusOK))
			Expect(owner).To(Equal("ops"))
		})
	})
})
