package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// NoRouteMatched answer unknown routes and methods with an empty body
func NoRouteMatched() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if v, ok := err.(*echo.HTTPError); ok {
				switch v.Code {
				case http.StatusNotFound, http.StatusMethodNotAllowed:
					return c.NoContent(v.Code)
				}
			}
			return err
		}
	}
}
