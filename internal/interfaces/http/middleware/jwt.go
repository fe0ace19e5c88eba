package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/infrastructure/auth"
	"github.com/pot-code/course-playback/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// ValidateTokenOption ...
type ValidateTokenOption struct {
	// InBlackList reports revoked tokens
	InBlackList func(token string) (bool, error)
}

// VerifyToken validate the learner JWT and store its claims in the context
func VerifyToken(ju *auth.JWTUtil, options ...*ValidateTokenOption) echo.MiddlewareFunc {
	inBlacklist := func(string) (bool, error) { return false, nil }
	if len(options) > 0 && options[0].InBlackList != nil {
		inBlacklist = options[0].InBlackList
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := ju.ExtractToken(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			if revoked, err := inBlacklist(tokenStr); err != nil {
				return err
			} else if revoked {
				return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
			}

			token, err := ju.Validate(tokenStr)
			if err != nil {
				logging.ExtractLoggerFromContext(c.Request().Context()).Debug("reject token", zap.Error(err))
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			ju.SetContextToken(c, token)
			return next(c)
		}
	}
}
