// Package sourcetest provides an in-memory Redis stream for source tests.
package sourcetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream mimics one Redis stream read through a single consumer group.
// Reading ">" delivers new entries and marks them pending; reading an
// explicit ID returns pending entries with a greater ID, as XREADGROUP does.
type Stream struct {
	mu        sync.Mutex
	name      string
	entries   []redis.XMessage
	delivered int
	pending   map[string]bool
	seq       int64
	reads     []string
}

// NewStream creates an empty stream
func NewStream(name string) *Stream {
	return &Stream{name: name, pending: make(map[string]bool)}
}

// Add appends an entry and returns its ID
func (s *Stream) Add(values map[string]interface{}) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	s.entries = append(s.entries, redis.XMessage{ID: id, Values: values})
	return id
}

// Deliver marks the next n new entries pending without returning them,
// the state a consumer leaves behind when it stops before acknowledging.
func (s *Stream) Deliver(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ; n > 0 && s.delivered < len(s.entries); n-- {
		s.pending[s.entries[s.delivered].ID] = true
		s.delivered++
	}
}

// Pending returns the IDs delivered but not acknowledged, in stream order
func (s *Stream) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return orderOf(ids[i]) < orderOf(ids[j]) })
	return ids
}

// ReadIDs returns the start ID of every XREADGROUP call so far
func (s *Stream) ReadIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reads...)
}

func (s *Stream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (s *Stream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	s.mu.Lock()
	id := a.Streams[len(a.Streams)/2]
	s.reads = append(s.reads, id)

	limit := int(a.Count)
	if limit <= 0 {
		limit = len(s.entries)
	}

	var out []redis.XMessage
	if id != ">" {
		after := orderOf(id)
		for _, entry := range s.entries[:s.delivered] {
			if len(out) == limit {
				break
			}
			if s.pending[entry.ID] && orderOf(entry.ID) > after {
				out = append(out, entry)
			}
		}
		s.mu.Unlock()
		return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: s.name, Messages: out}}, nil)
	}

	for s.delivered < len(s.entries) && len(out) < limit {
		entry := s.entries[s.delivered]
		s.delivered++
		s.pending[entry.ID] = true
		out = append(out, entry)
	}
	s.mu.Unlock()

	if len(out) == 0 {
		// a blocking read times out with nil, like Redis
		if a.Block > 0 {
			select {
			case <-ctx.Done():
				return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
			case <-time.After(a.Block):
			}
		}
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: s.name, Messages: out}}, nil)
}

func (s *Stream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if s.pending[id] {
			delete(s.pending, id)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (s *Stream) Close() error {
	return nil
}

func orderOf(id string) int64 {
	var ms, seq int64
	fmt.Sscanf(id, "%d-%d", &ms, &seq)
	return ms
}
