package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSubProvider implements the notify.Provider interface for Google Cloud
// Pub/Sub.
type PubSubProvider struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubProvider creates a Pub/Sub client and verifies the topic exists.
// It authenticates using Google Cloud's Application Default Credentials.
func NewPubSubProvider(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &PubSubProvider{client: client, topic: topic, logger: logger}, nil
}

// Publish sends the completion to the Pub/Sub topic. The client batches and
// retries in the background; Publish does not wait for server acknowledgment.
func (p *PubSubProvider) Publish(ctx context.Context, completion Completion) error {
	data, err := json.Marshal(completion)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"outcome": completion.Outcome,
		},
	})
	return nil
}

// Close stops the topic's publish goroutines and closes the client.
func (p *PubSubProvider) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
