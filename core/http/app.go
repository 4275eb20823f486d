package http

import (
	"fmt"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	genapp "github.com/mudler/genstudio/core/application"
	httpMiddleware "github.com/mudler/genstudio/core/http/middleware"
	"github.com/mudler/genstudio/core/http/routes"

	"github.com/mudler/xlog"
)

// @title genstudio API
// @version 1.0.0
// @description Schema-driven generation studio backed by Replicate.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func API(application *genapp.Application) (*echo.Echo, error) {
	appConfig := application.ApplicationConfig()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if appConfig.UploadLimitMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", appConfig.UploadLimitMB)))
	}

	e.HTTPErrorHandler = ErrorHandler(appConfig.OpaqueErrors)

	// must run before routing
	e.Pre(httpMiddleware.StripPathPrefix())

	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			err := next(c)
			if err != nil {
				// let the error handler settle the status before logging it
				c.Error(err)
			}
			xlog.Info("HTTP request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"owner", httpMiddleware.Owner(c))
			return nil
		}
	})

	if !appConfig.Debug {
		e.Use(middleware.Recover())
	}

	if m := application.MetricsService(); m != nil {
		e.Use(httpMiddleware.Metrics(m))
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	routes.HealthRoutes(e)

	// preflight requests carry no credentials, CORS goes before auth
	if appConfig.CORS {
		corsConfig := middleware.CORSConfig{}
		if appConfig.CORSAllowOrigins != "" {
			corsConfig.AllowOrigins = strings.Split(appConfig.CORSAllowOrigins, ",")
		}
		e.Use(middleware.CORSWithConfig(corsConfig))
	}

	if appConfig.CSRF {
		xlog.Debug("Enabling CSRF middleware. Tokens are now required for state-modifying requests")
		e.Use(middleware.CSRF())
	}

	authenticator, err := newAuthenticator(application)
	if err != nil {
		return nil, err
	}
	e.Use(authenticator.Middleware())

	if dir := appConfig.GeneratedContentDir; dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("unable to create generated content dir: %w", err)
		}
		e.Static(genapp.GeneratedContentRoute, dir)
	}

	routes.RegisterStudioRoutes(e, application)

	e.Server.RegisterOnShutdown(func() {
		xlog.Info("genstudio API server shutting down")
	})

	return e, nil
}

func newAuthenticator(app *genapp.Application) (*httpMiddleware.Authenticator, error) {
	appConfig := app.ApplicationConfig()
	if appConfig.OIDCIssuer == "" {
		return httpMiddleware.NewAuthenticator(appConfig, nil), nil
	}
	verifier, err := httpMiddleware.NewOIDCVerifier(appConfig.Context, appConfig.OIDCIssuer, appConfig.OIDCClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to set up OIDC issuer %s: %w", appConfig.OIDCIssuer, err)
	}
	xlog.Info("OIDC authentication enabled", "issuer", appConfig.OIDCIssuer)
	return httpMiddleware.NewAuthenticator(appConfig, verifier), nil
}
