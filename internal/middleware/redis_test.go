package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/pdf-flipbook/internal/config"
	"github.com/iliyamo/pdf-flipbook/internal/logger"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTokenBucketBlocksAfterCapacity(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: 2 * time.Hour, KeyStrategy: "ip_route", Prefix: "rl",
	}
	e := echo.New()
	e.POST("/api/auth/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, rdb, logger.Discard()))

	hit := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1").Code)
	rec := hit("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// buckets are per ip
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2").Code)
}

func TestTokenBucketFailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour, TTL: time.Hour, Prefix: "rl"}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, rdb, logger.Discard()))
	mr.Close()

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRedisCacheHitAndMiss(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 10}

	var calls atomic.Int32
	e := echo.New()
	e.GET("/api/public/flipbooks/:unique_id", func(c echo.Context) error {
		calls.Add(1)
		if c.Param("unique_id") == "missing" {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
		}
		return c.JSON(http.StatusOK, echo.Map{"unique_id": c.Param("unique_id")})
	}, NewRedisCache(cfg, rdb, logger.Discard()))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	first := get("/api/public/flipbooks/abc")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := get("/api/public/flipbooks/abc")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.True(t, strings.HasPrefix(second.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON))
	assert.EqualValues(t, 1, calls.Load())

	get("/api/public/flipbooks/missing")
	get("/api/public/flipbooks/missing")
	assert.EqualValues(t, 3, calls.Load(), "errors are not cached")
}

func TestRedisCacheHitKeepsOwnRequestID(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 10}

	e := echo.New()
	e.Use(echomw.RequestID())
	e.GET("/api/public/flipbooks/:unique_id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"unique_id": c.Param("unique_id")})
	}, NewRedisCache(cfg, rdb, logger.Discard()))

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/public/flipbooks/abc", nil))
		return rec
	}

	first := get()
	require.Len(t, first.Header().Values(echo.HeaderXRequestID), 1)

	second := get()
	require.Equal(t, "HIT", second.Header().Get("X-Cache"))
	ids := second.Header().Values(echo.HeaderXRequestID)
	require.Len(t, ids, 1)
	assert.NotEqual(t, first.Header().Get(echo.HeaderXRequestID), ids[0])

	// the stored entry carries no per-request headers
	keys := mr.Keys()
	require.Len(t, keys, 1)
	raw, err := mr.Get(keys[0])
	require.NoError(t, err)
	_, hdr, _, ok := decodePayload([]byte(raw))
	require.True(t, ok)
	assert.Empty(t, hdr.Get(echo.HeaderXRequestID))
	assert.Empty(t, hdr.Get("X-Cache"))
}

func TestRedisCacheSkipsLargeBodies(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 8}

	var calls atomic.Int32
	e := echo.New()
	e.GET("/big", func(c echo.Context) error {
		calls.Add(1)
		return c.String(http.StatusOK, strings.Repeat("x", 64))
	}, NewRedisCache(cfg, rdb, logger.Discard()))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/big", nil))
		assert.Len(t, rec.Body.String(), 64)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestPayloadRoundTrip(t *testing.T) {
	h := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(200, h, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, 200, status)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 0, 0})
	assert.False(t, ok)
}
