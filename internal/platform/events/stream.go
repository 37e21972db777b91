// Package events publishes domain events to a Redis stream so that downstream
// consumers (central station displays, paging gateways) can follow alarms
// without polling Postgres.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultMaxLen caps the stream with approximate trimming.
const DefaultMaxLen = 100000

// StreamPublisher appends JSON events to one Redis stream with XADD.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// Connect parses a redis:// URL, pings the server and returns a client.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: DefaultMaxLen}
}

// Publish serializes payload to JSON and appends it under the "data" field,
// alongside the event type and a unix timestamp. It returns the entry id.
func (p *StreamPublisher) Publish(ctx context.Context, eventType string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":      eventType,
			"data":      string(data),
			"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

func (p *StreamPublisher) Stream() string { return p.stream }
