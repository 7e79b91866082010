package httpmiddleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenBucketLimitsAndRefills(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	limiter := NewTokenBucket(2, 60).WithClock(func() time.Time { return now })

	r := gin.New()
	r.Use(limiter.GinMiddleware())
	r.GET("/v1/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := call("10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, w.Code)
		}
	}
	w := call("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected limit, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected Retry-After %q", w.Header().Get("Retry-After"))
	}
	if w := call("10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("other clients have their own bucket, got %d", w.Code)
	}

	now = now.Add(time.Second)
	if w := call("10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("expected refill after one second, got %d", w.Code)
	}
}

func TestTokenBucketEvictsIdleClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	limiter := NewTokenBucket(2, 60).WithClock(func() time.Time { return now })

	r := gin.New()
	r.Use(limiter.GinMiddleware())
	r.GET("/v1/jobs", func(c *gin.Context) { c.Status(http.StatusOK) })
	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 100; i++ {
		call(fmt.Sprintf("10.0.1.%d", i))
	}
	call("10.0.0.1")
	call("10.0.0.1")
	if n := limiter.Len(); n != 101 {
		t.Fatalf("expected 101 tracked clients, got %d", n)
	}

	// A full refill takes two seconds at one token per second.
	now = now.Add(3 * time.Second)
	if code := call("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("refilled client rejected: %d", code)
	}
	if n := limiter.Len(); n != 1 {
		t.Fatalf("idle clients should be evicted, %d remain", n)
	}
}

func TestTokenBucketDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewTokenBucket(0, 0).GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}
