// Package redis appends record notifications to a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

// StreamClient is the subset of *redis.Client the publisher uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
}

// Publisher writes one stream entry per payload. The topic names the
// stream unless a fixed stream was configured.
type Publisher struct {
	client StreamClient
	stream string
	maxLen int64
}

// New returns a Publisher. maxLen caps the stream approximately; zero
// leaves it unbounded.
func New(client StreamClient, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish adds payload to the stream and returns the entry ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	stream := p.stream
	if stream == "" {
		stream = topic
	}
	if stream == "" {
		return "", fmt.Errorf("stream is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	values := map[string]any{"topic": topic, "data": string(data)}
	if rec, ok := payload.(crawler.ProductRecord); ok {
		values["retailer"] = rec.Retailer
		values["fingerprint"] = rec.Fingerprint
	}
	args := &goredis.XAddArgs{Stream: stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Close is a no-op; the client is owned by the caller.
func (p *Publisher) Close() error { return nil }
