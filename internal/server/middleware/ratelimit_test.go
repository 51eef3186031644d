// file: internal/server/middleware/ratelimit_test.go
// version: 2.0.0
// guid: b31f3de0-b0bc-4cbf-8448-7309df38f7c0

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestNewIPRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(0, 0)
	assert.Equal(t, 1, limiter.requestsPerMin)
	assert.Equal(t, 1, limiter.burst)
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewIPRateLimiter(1, 1).Middleware())
	router.GET("/api/v1/fingerprint/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/fingerprint/status", nil)
		req.RemoteAddr = addr
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	assert.Equal(t, http.StatusOK, do("192.0.2.1:1234").Code)

	limited := do("192.0.2.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), "RATE_LIMITED")
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	// Different IP should have its own bucket.
	assert.Equal(t, http.StatusOK, do("198.51.100.3:4321").Code)
}

func TestIPRateLimiter_SweepsIdleEntries(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(60, 1)
	limiter.idleTTL = time.Minute
	start := time.Now()

	limiter.limiterForIP("192.0.2.1", start)
	limiter.limiterForIP("192.0.2.2", start.Add(30*time.Second))
	assert.Len(t, limiter.entries, 2, "no sweep within a minute of the last one")

	limiter.limiterForIP("192.0.2.2", start.Add(3*time.Minute))
	assert.Len(t, limiter.entries, 1)
	assert.Contains(t, limiter.entries, "192.0.2.2")
}
