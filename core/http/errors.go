package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/backend"
	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/schema"
	"github.com/mudler/genstudio/core/services"
	"github.com/mudler/xlog"
)

// toAPIError maps an error returned by a handler to its status and body.
func toAPIError(err error) (int, *schema.APIError) {
	var (
		he         *echo.HTTPError
		validation *services.ValidationError
	)
	switch {
	case errors.As(err, &he):
		msg := fmt.Sprint(he.Message)
		errType := schema.ErrorTypeInvalidRequest
		switch {
		case he.Code == http.StatusNotFound:
			errType = schema.ErrorTypeNotFound
		case he.Code >= http.StatusInternalServerError:
			errType = schema.ErrorTypeServer
		}
		return he.Code, &schema.APIError{Code: he.Code, Message: msg, Type: errType}
	case errors.As(err, &validation):
		return http.StatusBadRequest, &schema.APIError{
			Code:    http.StatusBadRequest,
			Message: "invalid parameters",
			Type:    schema.ErrorTypeInvalidRequest,
			Errors:  validation.Errors,
		}
	case errors.Is(err, config.ErrModelNotFound),
		errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		return http.StatusNotFound, &schema.APIError{Code: http.StatusNotFound, Message: err.Error(), Type: schema.ErrorTypeNotFound}
	case errors.Is(err, chat.ErrMessageSettled):
		return http.StatusConflict, &schema.APIError{Code: http.StatusConflict, Message: err.Error(), Type: schema.ErrorTypeInvalidRequest}
	case errors.Is(err, services.ErrNoModel):
		return http.StatusBadRequest, &schema.APIError{Code: http.StatusBadRequest, Message: err.Error(), Type: schema.ErrorTypeInvalidRequest}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &schema.APIError{Code: http.StatusGatewayTimeout, Message: err.Error(), Type: schema.ErrorTypeServer}
	}
	if be, ok := backend.IsError(err); ok {
		return http.StatusBadGateway, &schema.APIError{Code: http.StatusBadGateway, Message: services.ToUserMessage(be), Type: schema.ErrorTypeGeneration}
	}
	return http.StatusInternalServerError, &schema.APIError{Code: http.StatusInternalServerError, Message: err.Error(), Type: schema.ErrorTypeServer}
}

// ErrorHandler renders errors as schema.ErrorResponse. Opaque errors only
// send the status code.
func ErrorHandler(opaque bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, apiErr := toAPIError(err)
		if code >= http.StatusInternalServerError {
			xlog.Error("Request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
		}

		var writeErr error
		switch {
		case opaque:
			writeErr = c.NoContent(code)
		case c.Request().Method == http.MethodHead:
			writeErr = c.NoContent(code)
		default:
			writeErr = c.JSON(code, schema.ErrorResponse{Error: apiErr})
		}
		if writeErr != nil {
			xlog.Warn("Cannot write error response", "error", writeErr)
		}
	}
}
