package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// NewAdminAuth requires "Authorization: Bearer <token>". An empty token
// disables the check.
func NewAdminAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if token == "" {
			return next
		}
		want := []byte(token)
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="geonudge"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "admin token required")
			}
			return next(c)
		}
	}
}
