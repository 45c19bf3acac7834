package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/email-scheduler/internal/config"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newEcho(mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		name, _ := ClientFromCtx(c)
		return c.String(http.StatusOK, name)
	}, mws...)
	return e
}

func get(e *echo.Echo, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyMiddleware(t *testing.T) {
	e := newEcho(APIKeyMiddleware([]config.APIKey{{Name: "ops", Key: "k1"}, {Name: "blank", Key: " "}}))

	assert.Equal(t, http.StatusUnauthorized, get(e, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(e, map[string]string{"X-API-Key": " "}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(e, map[string]string{"X-API-Key": "nope"}).Code)

	rec := get(e, map[string]string{"X-API-Key": "k1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", rec.Body.String())
}

func TestAPIKeyMiddleware_DisabledWithoutKeys(t *testing.T) {
	e := newEcho(APIKeyMiddleware(nil))
	rec := get(e, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRateLimit_FixedWindow(t *testing.T) {
	now := time.Unix(1_900_000_000, 500*int64(time.Millisecond))
	e := newEcho(RateLimitMiddleware(RateLimitConfig{
		Redis:          newRedis(t),
		DefaultRPS:     2,
		Window:         time.Second,
		RetryAfterHint: true,
		Now:            func() time.Time { return now },
	}))

	assert.Equal(t, http.StatusOK, get(e, nil).Code)
	assert.Equal(t, http.StatusOK, get(e, nil).Code)

	rec := get(e, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, get(e, nil).Code, "next window")
}

func TestRateLimit_PerClientOverride(t *testing.T) {
	now := time.Unix(1_900_000_000, 0)
	rdb := newRedis(t)
	e := newEcho(
		APIKeyMiddleware([]config.APIKey{
			{Name: "small", Key: "a", RateLimitRPS: 1},
			{Name: "big", Key: "b"},
		}),
		RateLimitMiddleware(RateLimitConfig{
			Redis:      rdb,
			DefaultRPS: 3,
			Now:        func() time.Time { return now },
		}),
	)

	small := map[string]string{"X-API-Key": "a"}
	assert.Equal(t, http.StatusOK, get(e, small).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(e, small).Code)

	big := map[string]string{"X-API-Key": "b"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(e, big).Code, "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(e, big).Code)
}

func TestRateLimit_NoRedisAllowsAll(t *testing.T) {
	e := newEcho(RateLimitMiddleware(RateLimitConfig{DefaultRPS: 1}))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(e, nil).Code)
	}
}
