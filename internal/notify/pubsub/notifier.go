// Package pubsub publishes run summaries to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/listing-crawler/internal/notify"
)

// Notifier wraps a Pub/Sub topic handle.
type Notifier struct {
	client    *pubsub.Client
	ownClient bool
	topic     *pubsub.Topic
	logger    *zap.Logger
}

// New creates a Pub/Sub client for projectID and a notifier publishing to
// topicID. The notifier owns the client.
func New(ctx context.Context, projectID, topicID string, logger *zap.Logger, opts ...option.ClientOption) (*Notifier, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	n, err := NewWithClient(client, topicID, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client", zap.Error(closeErr))
		}
		return nil, err
	}
	n.ownClient = true
	return n, nil
}

// NewWithClient builds a notifier around an existing client.
func NewWithClient(client *pubsub.Client, topicID string, logger *zap.Logger) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Notifier{
		client: client,
		topic:  client.Topic(topicID),
		logger: logger,
	}, nil
}

// Notify marshals the summary to JSON, publishes it and waits for the
// server-assigned message ID.
func (n *Notifier) Notify(ctx context.Context, summary notify.Summary) (string, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":  summary.RunID,
			"outcome": string(summary.Outcome),
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish summary: %w", err)
	}
	n.logger.Info("run summary published",
		zap.String("topic", n.topic.ID()),
		zap.String("message_id", id),
	)
	return id, nil
}

// Close flushes pending publishes and closes the client when owned.
func (n *Notifier) Close() error {
	n.topic.Stop()
	if !n.ownClient {
		return nil
	}
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
