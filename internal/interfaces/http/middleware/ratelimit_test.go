package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLimiter builds a limiter with a controllable clock and no
// background sweep.
func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *time.Time) {
	now := time.Now()
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     func() time.Time { return now },
	}
	return rl, &now
}

func TestRateLimiter_AllowWithinBudget(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Minute)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl, now := newTestLimiter(1, time.Minute)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	*now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_Remaining(t *testing.T) {
	rl, now := newTestLimiter(5, time.Minute)

	assert.Equal(t, 5, rl.Remaining("a"))

	rl.Allow("a")
	rl.Allow("a")
	assert.Equal(t, 3, rl.Remaining("a"))

	*now = now.Add(time.Minute)
	assert.Equal(t, 5, rl.Remaining("a"))
}

func limitedEngine(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(rl))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimit_RejectsWith429(t *testing.T) {
	rl, _ := newTestLimiter(2, time.Minute)
	r := limitedEngine(rl)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRateLimit_SetsBudgetHeaders(t *testing.T) {
	rl, _ := newTestLimiter(5, time.Minute)
	r := limitedEngine(rl)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_KeysByClientIP(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	r := limitedEngine(rl)

	reqA := httptest.NewRequest(http.MethodGet, "/ping", nil)
	reqA.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, reqA)
	require.Equal(t, http.StatusOK, w.Code)

	// Same IP exhausted.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, reqA)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Different IP unaffected.
	reqB := httptest.NewRequest(http.MethodGet, "/ping", nil)
	reqB.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, reqB)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByKey(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitByKey(rl, func(c *gin.Context) string {
		return c.GetHeader("X-API-Key")
	}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-API-Key", key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("key-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("key-1"))
	assert.Equal(t, http.StatusOK, send("key-2"))
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	require.NotNil(t, rl)
	assert.True(t, rl.Allow("x"))
	assert.Equal(t, 9, rl.Remaining("x"))
}
