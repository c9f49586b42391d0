package errors

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPErrorsTotal counts error replies by type.
var HTTPErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Total HTTP errors by error type",
	},
	[]string{"type"},
)

// Middleware turns handler errors into JSON error replies. An *echo.HTTPError
// (raised by routing or other middleware) is counted and passed on to echo's
// own error handler unchanged.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				HTTPErrorsTotal.WithLabelValues(string(WrapHTTPError(httpErr).Type)).Inc()
				return err
			}

			return respond(c, AsStructuredError(err))
		}
	}
}

func respond(c echo.Context, err *Error) error {
	HTTPErrorsTotal.WithLabelValues(string(err.Type)).Inc()
	logError(c, err)

	if writeErr := c.JSON(err.HTTPStatus(), err.ToResponse()); writeErr != nil {
		return fmt.Errorf("failed to write error response: %w", writeErr)
	}
	return nil
}

func logError(c echo.Context, err *Error) {
	info := err.Type.info()
	req := c.Request()

	attrs := make([]slog.Attr, 0, len(err.Context)+6)
	attrs = append(attrs,
		slog.String("error_type", string(err.Type)),
		slog.String("message", err.Message),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", info.status),
	)
	if pollID := c.Param("id"); pollID != "" {
		attrs = append(attrs, slog.String("poll_id", pollID))
	}
	for k, v := range err.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	if err.Cause != nil && info.level >= slog.LevelError {
		attrs = append(attrs, slog.Any("cause", err.Cause))
	}

	slog.LogAttrs(req.Context(), info.level, info.logTitle, attrs...)
}

// WrapHTTPError classifies an echo error by its status code.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message, ok := httpErr.Message.(string)
	if !ok {
		message = "internal server error"
	}
	return newError(typeForStatus(httpErr.Code), message, httpErr.Internal)
}
