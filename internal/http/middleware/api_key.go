package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/jmehdipour/email-scheduler/internal/config"
	"github.com/jmehdipour/email-scheduler/internal/validation"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxClient    = "client"
	ctxClientRPS = "client_rps"
)

// ClientFromCtx extracts the authenticated client name set by APIKeyMiddleware.
func ClientFromCtx(c echo.Context) (string, bool) {
	name, ok := c.Get(ctxClient).(string)
	return name, ok && name != ""
}

// APIKeyMiddleware authenticates requests using the X-API-Key header against the
// configured keys. With no keys configured every request passes unauthenticated.
func APIKeyMiddleware(keys []config.APIKey) echo.MiddlewareFunc {
	active := make([]config.APIKey, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k.Key) != "" {
			active = append(active, k)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(active) == 0 {
			return next
		}
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, validation.ErrorBody{Error: "missing_api_key"})
			}
			for _, k := range active {
				if subtle.ConstantTimeCompare([]byte(key), []byte(k.Key)) == 1 {
					c.Set(ctxClient, k.Name)
					if k.RateLimitRPS > 0 {
						c.Set(ctxClientRPS, k.RateLimitRPS)
					}
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, validation.ErrorBody{Error: "invalid_api_key"})
		}
	}
}
