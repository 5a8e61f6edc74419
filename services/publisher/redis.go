package publisher

import (
	"context"
	"encoding/base64"

	"github.com/redis/go-redis/v9"

	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// RedisPublisher implements Publisher using a Redis stream
type RedisPublisher struct {
	client          *redis.Client
	ctx             context.Context
	stream          string
	streamMaxLength int64
}

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(ctx context.Context, client *redis.Client, stream string, streamMaxLength int) *RedisPublisher {
	return &RedisPublisher{
		client:          client,
		ctx:             ctx,
		stream:          stream,
		streamMaxLength: int64(streamMaxLength),
	}
}

// Publish adds a message to the event stream.
// The message is base64 encoded before publishing
func (p *RedisPublisher) Publish(key string, message []byte) error {
	encodedMessage := base64.StdEncoding.EncodeToString(message)

	err := p.client.XAdd(p.ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			key: encodedMessage,
		},
	}).Err()
	if err != nil {
		return trackererrors.NewPublisher(p.stream, "xadd failed", err)
	}
	return nil
}

// TrimStreams trims the event stream to the configured maximum length
func (p *RedisPublisher) TrimStreams() error {
	if err := p.client.XTrimMaxLenApprox(p.ctx, p.stream, p.streamMaxLength, 0).Err(); err != nil {
		return trackererrors.NewPublisher(p.stream, "xtrim failed", err)
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
