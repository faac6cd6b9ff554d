package mutation

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"memberpass/internal/platform/kafka/consumer"
	id "memberpass/pkg/domain"
)

// KafkaSource receives member changes from a Kafka topic through a consumer
// group. Delivery is at least once; duplicate invalidations are harmless.
type KafkaSource struct {
	cfg    consumer.Config
	logger *slog.Logger
}

type KafkaOption func(*KafkaSource)

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(s *KafkaSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewKafkaSource(cfg consumer.Config, opts ...KafkaOption) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || len(cfg.Topics) == 0 || cfg.Group == "" {
		return nil, errors.New("kafka brokers, topics and group are required")
	}
	s := &KafkaSource{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Subscribe joins the consumer group and streams changed member IDs until ctx
// is cancelled.
func (s *KafkaSource) Subscribe(ctx context.Context) (<-chan id.MemberID, error) {
	out := make(chan id.MemberID)
	handler := consumer.HandlerFunc(func(ctx context.Context, msg *consumer.Message) error {
		memberID, err := ParseMemberID(msg.Value)
		if err != nil && len(msg.Key) > 0 {
			memberID, err = ParseMemberID(msg.Key)
		}
		if err != nil {
			// Commit past it; redelivery cannot fix a malformed record.
			s.logger.WarnContext(ctx, "skipping malformed member change",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return nil
		}
		select {
		case out <- memberID:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	c, err := consumer.New(s.cfg, handler, consumer.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(out)
		defer c.Close()
		if err := c.Run(ctx); err != nil {
			s.logger.ErrorContext(ctx, "member change consumer stopped", "error", err)
		}
	}()
	return out, nil
}
