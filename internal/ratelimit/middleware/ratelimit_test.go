package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpass/internal/ratelimit/models"
	"memberpass/internal/ratelimit/store/bucket"
	"memberpass/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/verify/abc", nil)
	req = req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("limits each client IP separately", func(t *testing.T) {
		store := bucket.NewInMemoryBucketStore(bucket.WithClock(func() time.Time { return now }))
		h := New(store).RateLimit("verify", 2, time.Minute)(ok)

		first := serve(h, "10.0.0.1")
		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)

		denied := serve(h, "10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, denied.Code)
		assert.Equal(t, "60", denied.Header().Get("Retry-After"))
		var body models.RateLimitExceededResponse
		require.NoError(t, json.Unmarshal(denied.Body.Bytes(), &body))
		assert.Equal(t, "rate_limit_exceeded", body.Error)
		assert.Equal(t, 60, body.RetryAfter)

		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2").Code)
	})

	t.Run("store failure lets requests through", func(t *testing.T) {
		h := New(failingStore{}).RateLimit("verify", 1, time.Minute)(ok)
		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)
		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)
	})

	t.Run("disabled is a pass-through", func(t *testing.T) {
		store := bucket.NewInMemoryBucketStore()
		h := New(store, WithDisabled(true)).RateLimit("verify", 1, time.Minute)(ok)
		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)
		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)
		assert.Equal(t, 0, store.Len())
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, models.RetryAfterSeconds(now, now))
	assert.Equal(t, 1, models.RetryAfterSeconds(now, now.Add(200*time.Millisecond)))
	assert.Equal(t, 3, models.RetryAfterSeconds(now, now.Add(2100*time.Millisecond)))
}
