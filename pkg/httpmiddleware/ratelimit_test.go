package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newLimited(t *testing.T, cfg RateLimitConfig) (http.Handler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return RateLimit(ctx, cfg)(okHandler()), clock
}

func doFrom(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/cart/evaluate", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Burst(t *testing.T) {
	h, _ := newLimited(t, RateLimitConfig{RPS: 1, Burst: 3})

	for i := range 3 {
		w := doFrom(h, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := doFrom(h, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var (
		code    int
		message string
	)
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Int()
		case "message":
			message, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 429, code)
	assert.Equal(t, "rate limit exceeded", message)
}

func TestRateLimit_Refills(t *testing.T) {
	h, clock := newLimited(t, RateLimitConfig{RPS: 2, Burst: 1})

	require.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.1:1", nil).Code)

	clock.now = clock.now.Add(500 * time.Millisecond)
	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", nil).Code)
}

func TestRateLimit_RejectedRequestsDoNotConsumeTokens(t *testing.T) {
	h, clock := newLimited(t, RateLimitConfig{RPS: 1, Burst: 1})

	require.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", nil).Code)
	for range 5 {
		require.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.1:1", nil).Code)
	}

	clock.now = clock.now.Add(time.Second)
	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", nil).Code)
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		first   func() *http.Request
		same    func() *http.Request
		another func() *http.Request
	}{
		{
			name:    "remote address",
			first:   reqWith("10.0.0.1:1234", nil),
			same:    reqWith("10.0.0.1:5678", nil),
			another: reqWith("10.0.0.2:1234", nil),
		},
		{
			name:    "first forwarded hop",
			first:   reqWith("192.168.1.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}),
			same:    reqWith("192.168.1.2:1", map[string]string{"X-Forwarded-For": "203.0.113.50"}),
			another: reqWith("192.168.1.1:1", map[string]string{"X-Forwarded-For": "203.0.113.51"}),
		},
		{
			name:    "real ip",
			first:   reqWith("192.168.1.1:1", map[string]string{"X-Real-IP": "198.51.100.7"}),
			same:    reqWith("192.168.1.9:1", map[string]string{"X-Real-IP": "198.51.100.7"}),
			another: reqWith("192.168.1.1:1", map[string]string{"X-Real-IP": "198.51.100.8"}),
		},
		{
			name: "custom key",
			cfg: RateLimitConfig{KeyFunc: func(r *http.Request) string {
				return r.Header.Get("X-Customer")
			}},
			first:   reqWith("10.0.0.1:1", map[string]string{"X-Customer": "ann"}),
			same:    reqWith("10.0.0.2:1", map[string]string{"X-Customer": "ann"}),
			another: reqWith("10.0.0.1:1", map[string]string{"X-Customer": "bob"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.RPS, cfg.Burst = 1, 1
			h, _ := newLimited(t, cfg)

			serve := func(r *http.Request) int {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, r)
				return w.Code
			}
			assert.Equal(t, http.StatusOK, serve(tt.first()))
			assert.Equal(t, http.StatusTooManyRequests, serve(tt.same()))
			assert.Equal(t, http.StatusOK, serve(tt.another()))
		})
	}
}

func reqWith(remoteAddr string, headers map[string]string) func() *http.Request {
	return func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remoteAddr
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req
	}
}

func TestRateLimit_Cleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1, IdleTTL: time.Minute})

	rl.limiter("a", now)
	rl.limiter("b", now.Add(50*time.Second))
	rl.cleanup(now.Add(70 * time.Second))

	assert.NotContains(t, rl.buckets, "a")
	assert.Contains(t, rl.buckets, "b")
}
