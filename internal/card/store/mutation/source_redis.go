package mutation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	id "memberpass/pkg/domain"
)

// RedisSource receives member changes over Redis pub/sub. Pub/sub is
// fire-and-forget: notifications sent while no engine is subscribed are lost
// and the affected entries age out through the cache TTL.
type RedisSource struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

type RedisOption func(*RedisSource)

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewRedisSource(client redis.UniversalClient, channel string, opts ...RedisOption) (*RedisSource, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		return nil, errors.New("redis channel is required")
	}
	s := &RedisSource{
		client:  client,
		channel: channel,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Subscribe confirms the subscription before returning, so changes published
// after Subscribe returns are delivered.
func (s *RedisSource) Subscribe(ctx context.Context) (<-chan id.MemberID, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", s.channel, err)
	}

	out := make(chan id.MemberID)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				memberID, err := ParseMemberID([]byte(msg.Payload))
				if err != nil {
					s.logger.WarnContext(ctx, "skipping malformed member change",
						"channel", msg.Channel,
						"error", err,
					)
					continue
				}
				select {
				case out <- memberID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish announces a member change. Writers of the member store call this
// after committing.
func (s *RedisSource) Publish(ctx context.Context, memberID id.MemberID) error {
	return s.client.Publish(ctx, s.channel, memberID.String()).Err()
}
