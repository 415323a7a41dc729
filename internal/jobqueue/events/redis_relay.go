package events

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/taskforge/internal/platform/logger"
)

// wireEvent is the JSON-safe projection of Event published to Redis.
// Job is embedded as raw JSON rather than the live *jobqueue.Job so a
// relay subscriber in another process never needs this module's types.
type wireEvent struct {
	Topic     Topic           `json:"topic"`
	QueueName string          `json:"queue_name"`
	Job       json.RawMessage `json:"job,omitempty"`
	Err       string          `json:"error,omitempty"`
}

// RedisRelay is an optional, additive forwarder that mirrors every Bus
// event onto a Redis pub/sub channel, the same relay shape the reference
// stack's clients/redis.sseBus uses for cross-process SSE fan-out. Wiring
// a RedisRelay never changes in-process delivery: it is purely an extra
// subscriber.
type RedisRelay struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisRelay wraps the already-configured client rdb and returns a
// relay publishing to channel.
func NewRedisRelay(log *logger.Logger, rdb *goredis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = "jobqueue.events"
	}
	return &RedisRelay{log: log.With("service", "RedisRelay"), rdb: rdb, channel: channel}
}

// Attach subscribes the relay to every topic on every queue of b and
// begins forwarding to Redis. It returns immediately; forwarding runs on
// Bus-managed goroutines (one per published event, as Bus.Publish
// dispatches).
func (r *RedisRelay) Attach(ctx context.Context, b *Bus) {
	for _, topic := range []Topic{
		TopicQueueStart, TopicQueueStop, TopicJobAdded, TopicJobStart,
		TopicJobComplete, TopicJobError, TopicJobAborting, TopicJobRetry, TopicJobSkipped,
	} {
		topic := topic
		b.Subscribe("", topic, func(ev Event) {
			if err := r.publish(ctx, ev); err != nil {
				r.log.Warn("redis relay publish failed", "topic", string(topic), "error", err)
			}
		})
	}
}

func (r *RedisRelay) publish(ctx context.Context, ev Event) error {
	we := wireEvent{Topic: ev.Topic, QueueName: ev.QueueName}
	if ev.Job != nil {
		b, err := json.Marshal(ev.Job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		we.Job = b
	}
	if ev.Err != nil {
		we.Err = ev.Err.Error()
	}
	raw, err := json.Marshal(we)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

// Close releases the underlying Redis connection.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
