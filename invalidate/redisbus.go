package invalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/itskum47/fluxquery/orchestrator"
)

// Message is one cross-process invalidation notification published on the
// bus: an entity key plus the priority to invalidate it at. Kind
// distinguishes which store-side map the key belongs to, since a single
// bus may be shared by a document, a collection and a list-query's
// queries/items.
type Message struct {
	Kind     string                 `json:"kind"`
	Key      string                 `json:"key"`
	Priority orchestrator.FetchType `json:"priority"`
}

// RedisBus fans invalidation messages out across processes sharing one
// logical store via Redis Pub/Sub, adapted from the teacher's
// control_plane/store/redis.go client-construction pattern. This is
// transport only: Redis here never holds a cached fetch result, only
// transient pub/sub messages (SPEC_FULL.md DOMAIN STACK / Non-goals note).
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus connects to addr and returns a bus publishing/subscribing on
// channel.
func NewRedisBus(addr, password string, db int, channel string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("invalidate: connecting to redis: %w", err)
	}
	return &RedisBus{client: client, channel: channel}, nil
}

// Publish fans out a single invalidation message.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("invalidate: marshaling message: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe runs until ctx is canceled, invoking onMessage for every
// message received (including ones this process published — callers that
// need to ignore their own publishes should tag messages and filter).
func (b *RedisBus) Subscribe(ctx context.Context, onMessage func(Message)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Printf("invalidate: dropping malformed redis message: %v", err)
				continue
			}
			onMessage(msg)
		}
	}
}

// Close releases the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
