package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// ErrorHandlingOption options for error handling
type ErrorHandlingOption struct {
	// Handler render err, it runs for returned errors and recovered panics
	Handler func(c echo.Context, traceID string, err error) error
}

// ErrorHandling turn handler errors and panics into responses
// **DO NOT return error anymore**
func ErrorHandling(options ...*ErrorHandlingOption) echo.MiddlewareFunc {
	handler := func(c echo.Context, traceID string, err error) error {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"code":     http.StatusInternalServerError,
			"title":    http.StatusText(http.StatusInternalServerError),
			"trace_id": traceID,
		})
	}
	if len(options) > 0 && options[0].Handler != nil {
		handler = options[0].Handler
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (ret error) {
			traceID := c.Response().Header().Get(echo.HeaderXRequestID)
			if traceID == "" {
				traceID = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			defer func() {
				if any := recover(); any != nil {
					err, ok := any.(error)
					if !ok {
						err = fmt.Errorf("%v", any)
					}
					logging.ExtractLoggerFromContext(c.Request().Context()).Error(err.Error(),
						zap.String("url.path", c.Request().RequestURI),
						zap.String("client.address", c.Request().RemoteAddr),
						zap.String("http.request.method", c.Request().Method),
						zap.Int64("http.request.body.bytes", c.Request().ContentLength),
						zap.Strings("route.params.name", c.ParamNames()),
						zap.Strings("route.params.value", c.ParamValues()),
						zap.String("trace.id", traceID),
					)
					handler(c, traceID, err)
					ret = nil
				}
			}()
			if err := next(c); err != nil {
				if c.Response().Committed {
					logging.ExtractLoggerFromContext(c.Request().Context()).Debug("error after response committed", zap.Error(err))
					return nil
				}
				return handler(c, traceID, err)
			}
			return nil
		}
	}
}
