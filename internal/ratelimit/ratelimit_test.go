package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_BurstThenRejects(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(1, 3)
	defer func() { _ = l.Close() }()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiter_RefillsOverTime(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(100, 1) // 100 tokens/sec, capacity 1
	defer func() { _ = l.Close() }()

	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(0.001, 1)
	defer func() { _ = l.Close() }()

	ok, _ := l.Allow(ctx, "a")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	require.False(t, ok)

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryLimiter_EvictStale(t *testing.T) {
	l := NewMemoryLimiter(1, 1)
	defer func() { _ = l.Close() }()

	_, _ = l.Allow(context.Background(), "old")
	l.mu.Lock()
	l.buckets["old"].lastAccess = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.evictStale()

	l.mu.Lock()
	_, ok := l.buckets["old"]
	l.mu.Unlock()
	assert.False(t, ok)
}

func TestMiddleware_Returns429(t *testing.T) {
	l := NewMemoryLimiter(0.001, 1)
	defer func() { _ = l.Close() }()

	handler := Middleware(l, IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMiddleware_NoopAllowsAll(t *testing.T) {
	handler := Middleware(NoopLimiter{}, IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.7:51234"
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestIPKeyFunc_StripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:44321"
	assert.Equal(t, "192.168.1.10", IPKeyFunc(req))
}
