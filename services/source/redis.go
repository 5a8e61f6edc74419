package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sjsage522/pricetracker/logger"
	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// StreamClient is the part of *redis.Client a RedisSource uses
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Close() error
}

// RedisSource reads snapshots from a Redis stream through a consumer group.
// Entries left unacknowledged by a previous run are delivered first, once each.
type RedisSource struct {
	client   StreamClient
	stream   string
	group    string
	consumer string
	count    int64
	block    time.Duration
	log      *logger.Logger

	// pendingCursor is the last pending entry ID handed out while draining
	pendingCursor  string
	pendingDrained bool
}

// NewRedisSource creates a new Redis stream source
func NewRedisSource(client StreamClient, stream, group, consumer string, count int, block time.Duration) *RedisSource {
	return &RedisSource{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		count:         int64(count),
		block:         block,
		log:           logger.ForSource(),
		pendingCursor: "0",
	}
}

// EnsureGroup creates the stream and consumer group if needed
func (s *RedisSource) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return trackererrors.NewSource(s.stream, "create consumer group failed", err)
	}
	return nil
}

// Read returns the next batch of messages.
// The pending list is walked forward from the last entry returned, so an
// entry that is never acknowledged is not handed out again by this source.
func (s *RedisSource) Read(ctx context.Context) ([]Message, error) {
	id := ">"
	block := s.block
	if !s.pendingDrained {
		id = s.pendingCursor
		block = -1
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    s.count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		if !s.pendingDrained {
			s.finishDrain()
		}
		return nil, nil
	}
	if err != nil {
		return nil, trackererrors.NewSource(s.stream, "xreadgroup failed", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			messages = append(messages, decodeEntry(entry))
		}
	}

	if !s.pendingDrained {
		if n := len(messages); n > 0 {
			s.pendingCursor = messages[n-1].ID
		}
		if s.count <= 0 || int64(len(messages)) < s.count {
			s.finishDrain()
		}
	}
	return messages, nil
}

func (s *RedisSource) finishDrain() {
	s.pendingDrained = true
	s.log.Debug().Str("cursor", s.pendingCursor).Msg("Pending entries drained")
}

// Ack acknowledges processed messages
func (s *RedisSource) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, s.group, ids...).Err(); err != nil {
		return trackererrors.NewSource(s.stream, fmt.Sprintf("xack of %d entries failed", len(ids)), err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSource) Close() error {
	return s.client.Close()
}

// decodeEntry turns every field of a stream entry into a payload.
// Values may be base64 encoded, as written by RedisPublisher, or raw JSON.
func decodeEntry(entry redis.XMessage) Message {
	keys := make([]string, 0, len(entry.Values))
	for k := range entry.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msg := Message{ID: entry.ID}
	for _, k := range keys {
		raw, ok := entry.Values[k].(string)
		if !ok {
			continue
		}
		msg.Payloads = append(msg.Payloads, decodePayload(raw))
	}
	return msg
}

func decodePayload(raw string) []byte {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed)
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return []byte(raw)
	}
	return decoded
}
