package revocation

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var isRevokedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "memberpass_is_card_revoked_duration_ms",
	Help:    "Latency of card revocation checks against Redis in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const revokedCardKeyPrefix = "memberpass:revoked:"

// RedisStore shares revocations between engine instances.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

type RedisOption func(*RedisStore)

// WithRetention expires revocation markers after d. Zero keeps them forever.
// Set it no shorter than the longest membership term.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Revoke marks cardNumber revoked. SET NX keeps the first revocation time.
func (s *RedisStore) Revoke(ctx context.Context, cardNumber string) error {
	if err := validateCardNumber(cardNumber); err != nil {
		return err
	}
	return s.client.SetNX(ctx, revokedCardKeyPrefix+cardNumber, time.Now().UTC().Format(time.RFC3339), s.retention).Err()
}

func (s *RedisStore) IsRevoked(ctx context.Context, cardNumber string) (bool, error) {
	start := time.Now()
	defer func() {
		isRevokedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if cardNumber == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, revokedCardKeyPrefix+cardNumber).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeMany revokes several card numbers in one pipeline.
func (s *RedisStore) RevokeMany(ctx context.Context, cardNumbers []string) error {
	if len(cardNumbers) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	pipe := s.client.Pipeline()
	for _, number := range cardNumbers {
		if err := validateCardNumber(number); err != nil {
			return err
		}
		pipe.SetNX(ctx, revokedCardKeyPrefix+number, now, s.retention)
	}
	_, err := pipe.Exec(ctx)
	return err
}
