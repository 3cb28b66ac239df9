package kafka

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// ConsumerHook observes message handling. BeforeHandle may rewrite the
// context, message, or payload; a non-nil error skips the handler and
// routes the message through error processing (OnError, DLQ, commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// LoggingHook logs handler failures with message coordinates so a bad
// payload can be located in the topic.
type LoggingHook struct{}

func (LoggingHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (LoggingHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (LoggingHook) OnError(_ context.Context, topic string, km kafka.Message, _ []byte, err error) {
	log.Warn().
		Err(err).
		Str("topic", topic).
		Int("partition", km.Partition).
		Int64("offset", km.Offset).
		Msg("kafka consumer: handler error")
}
