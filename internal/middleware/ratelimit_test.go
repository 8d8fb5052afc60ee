package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(t *testing.T, config RateLimitConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter, err := NewRateLimiter(config)
	require.NoError(t, err)

	router := gin.New()
	router.Use(limiter)
	router.POST("/connect/token", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	return router
}

func hit(router http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/connect/token", nil)
	req.Header.Set("X-Forwarded-For", ip)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Memory(t *testing.T) {
	router := newLimitedRouter(t, RateLimitConfig{Name: "token", RequestsPerMinute: 5})

	for i := range 5 {
		assert.Equal(t, http.StatusOK, hit(router, "192.168.1.100").Code, "request %d should succeed", i+1)
	}

	w := hit(router, "192.168.1.100")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.Contains(t, w.Body.String(), "Too many requests")
}

func TestRateLimiter_DifferentIPs(t *testing.T) {
	router := newLimitedRouter(t, RateLimitConfig{RequestsPerMinute: 2})

	for _, ip := range []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"} {
		for i := range 2 {
			assert.Equal(t, http.StatusOK, hit(router, ip).Code, "request %d from %s", i+1, ip)
		}
		assert.Equal(t, http.StatusTooManyRequests, hit(router, ip).Code, "third request from %s", ip)
	}
}

func TestRateLimiter_InvalidRate(t *testing.T) {
	_, err := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 0})
	assert.Error(t, err)
}

func TestRateLimiter_RedisSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	config := RateLimitConfig{Name: "token", RequestsPerMinute: 5, Redis: client}
	pod1 := newLimitedRouter(t, config)
	pod2 := newLimitedRouter(t, config)

	for i := range 3 {
		assert.Equal(t, http.StatusOK, hit(pod1, "192.168.88.1").Code, "pod1 request %d", i+1)
	}
	for i := range 2 {
		assert.Equal(t, http.StatusOK, hit(pod2, "192.168.88.1").Code, "pod2 request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(pod1, "192.168.88.1").Code,
		"limit is shared through redis")

	// Separate names keep separate buckets.
	other := newLimitedRouter(t, RateLimitConfig{Name: "login", RequestsPerMinute: 5, Redis: client})
	assert.Equal(t, http.StatusOK, hit(other, "192.168.88.1").Code)
}
