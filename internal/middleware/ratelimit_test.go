package middleware_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskrag/internal/middleware"
)

func newLimitedHandler(t *testing.T, limit int) (http.HandlerFunc, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	rl := middleware.NewRateLimiter(client, limit, time.Minute)
	return rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), mr
}

func TestRateLimiter_Limit(t *testing.T) {
	t.Run("Allows Within Limit", func(t *testing.T) {
		handler, _ := newLimitedHandler(t, 3)

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			rec := httptest.NewRecorder()
			handler(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		}
	})

	t.Run("Blocks Over Limit", func(t *testing.T) {
		handler, _ := newLimitedHandler(t, 2)

		var last int
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
			req.RemoteAddr = "10.0.0.2:1234"
			rec := httptest.NewRecorder()
			handler(rec, req)
			last = rec.Code
		}
		assert.Equal(t, http.StatusTooManyRequests, last)
	})

	t.Run("Limits Are Per IP", func(t *testing.T) {
		handler, _ := newLimitedHandler(t, 1)

		first := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
		first.RemoteAddr = "10.0.0.3:1234"
		rec := httptest.NewRecorder()
		handler(rec, first)
		require.Equal(t, http.StatusOK, rec.Code)

		other := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
		other.RemoteAddr = "10.0.0.4:1234"
		rec = httptest.NewRecorder()
		handler(rec, other)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Honors X-Forwarded-For", func(t *testing.T) {
		handler, _ := newLimitedHandler(t, 1)

		for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
			req := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
			req.RemoteAddr = "127.0.0.1:1234"
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			rec := httptest.NewRecorder()
			handler(rec, req)
			assert.Equal(t, want, rec.Code, "request %d", i+1)
		}
	})

	t.Run("Forwarded Chain Keys On First Address", func(t *testing.T) {
		handler, _ := newLimitedHandler(t, 1)

		// Varying proxy hops behind the same client must not mint fresh
		// rate-limit buckets.
		for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
			req := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
			req.RemoteAddr = "127.0.0.1:1234"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.9, 198.51.100.%d", i))
			rec := httptest.NewRecorder()
			handler(rec, req)
			assert.Equal(t, want, rec.Code, "request %d", i+1)
		}
	})

	t.Run("Garbage Forwarded Header Falls Back To Remote Addr", func(t *testing.T) {
		handler, _ := newLimitedHandler(t, 1)

		for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
			req := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
			req.RemoteAddr = "10.0.0.6:1234"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("not-an-ip-%d", i))
			rec := httptest.NewRecorder()
			handler(rec, req)
			assert.Equal(t, want, rec.Code, "request %d", i+1)
		}
	})

	t.Run("Fails Open When Redis Is Down", func(t *testing.T) {
		handler, mr := newLimitedHandler(t, 1)
		mr.Close()

		req := httptest.NewRequest(http.MethodGet, "/admin/rag/status", nil)
		req.RemoteAddr = "10.0.0.5:1234"
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
