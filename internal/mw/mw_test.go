package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"device-registry-backend/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireActor(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireActor("X-Actor-ID"), func(c *gin.Context) {
		c.String(http.StatusOK, Actor(c))
	})

	w := serve(r, "GET", "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"missing actor identity","code":"unauthenticated"}`, w.Body.String())

	w = serve(r, "GET", "/me", map[string]string{"X-Actor-ID": " alice "})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), UseLogger(logging.SetupLogger("error", "http")))
	r.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, logging.RequestID(c.Request.Context()))
	})

	w := serve(r, "GET", "/id", map[string]string{HeaderRequestID: "req-7"})
	assert.Equal(t, "req-7", w.Body.String())
	assert.Equal(t, "req-7", w.Header().Get(HeaderRequestID))

	w = serve(r, "GET", "/id", nil)
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(HeaderRequestID))
}

func TestRateLimiter(t *testing.T) {
	limiter := NewKeyedRateLimiter(rate.Limit(0.001), 2, time.Minute)
	r := gin.New()
	r.GET("/", RateLimiter(limiter, ClientIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, "GET", "/", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/", nil).Code)
	w := serve(r, "GET", "/", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestRateLimiter_ActorKeys(t *testing.T) {
	limiter := NewKeyedRateLimiter(rate.Limit(0.001), 1, time.Minute)
	r := gin.New()
	r.GET("/", RequireActor("X-Actor-ID"), RateLimiter(limiter, ActorOrIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := map[string]string{"X-Actor-ID": "alice"}
	bob := map[string]string{"X-Actor-ID": "bob"}
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "GET", "/", alice).Code)
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/", bob).Code)
}

func TestKeyedRateLimiter_Prune(t *testing.T) {
	limiter := NewKeyedRateLimiter(rate.Limit(1), 1, time.Millisecond)
	limiter.Allow("a")
	limiter.Allow("b")
	time.Sleep(5 * time.Millisecond)
	limiter.Allow("c")
	assert.Equal(t, 1, limiter.Prune())
}

func TestCache(t *testing.T) {
	calls := 0
	store := cache.New(time.Minute, time.Minute)
	r := gin.New()
	r.GET("/status", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		if c.Query("bad") != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := serve(r, "GET", "/status?identifier=1", nil)
	second := serve(r, "GET", "/status?identifier=1", nil)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	serve(r, "GET", "/status?bad=1", nil)
	serve(r, "GET", "/status?bad=1", nil)
	assert.Equal(t, 3, calls)
}

func TestCache_Disabled(t *testing.T) {
	calls := 0
	r := gin.New()
	r.GET("/status", Cache(cache.New(time.Minute, time.Minute), 0), func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})

	serve(r, "GET", "/status", nil)
	serve(r, "GET", "/status", nil)
	assert.Equal(t, 2, calls)
}
