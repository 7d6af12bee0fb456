// Package pubsub publishes record notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

type result interface {
	Get(ctx context.Context) (string, error)
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) result
	Stop()
}

type clientTopic struct{ t *pubsub.Topic }

func (c clientTopic) Publish(ctx context.Context, msg *pubsub.Message) result {
	return c.t.Publish(ctx, msg)
}

func (c clientTopic) Stop() { c.t.Stop() }

// Publisher sends each payload as a JSON message. Topic handles are opened
// lazily and reused.
type Publisher struct {
	client *pubsub.Client
	open   func(name string) topic

	mu     sync.Mutex
	topics map[string]topic
}

// New connects a Pub/Sub client for projectID.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("publisher.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := newPublisher(func(name string) topic { return clientTopic{t: client.Topic(name)} })
	p.client = client
	return p, nil
}

func newPublisher(open func(name string) topic) *Publisher {
	return &Publisher{open: open, topics: make(map[string]topic)}
}

func (p *Publisher) topic(name string) topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.open(name)
		p.topics[name] = t
	}
	return t
}

// Publish marshals payload and waits for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topicName string, payload any) (string, error) {
	if topicName == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: attributes(payload)}
	id, err := p.topic(topicName).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topicName, err)
	}
	return id, nil
}

// attributes lets subscribers filter record notifications without decoding.
func attributes(payload any) map[string]string {
	rec, ok := payload.(crawler.ProductRecord)
	if !ok {
		return nil
	}
	return map[string]string{
		"retailer":    rec.Retailer,
		"fingerprint": rec.Fingerprint,
	}
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
