// Package queue provides task queue implementations for scheduling
// deep-investigation work.
package queue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"
)

// PubSubQueue publishes investigation tasks to a GCP Pub/Sub topic. The
// image bytes travel as the message payload; the investigation ID and
// metadata as attributes.
type PubSubQueue struct {
	client *pubsub.Client
	topic  string
	logger *zap.Logger
}

func fullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// NewPubSubQueue creates a Pub/Sub client and verifies the topic is
// active. It authenticates with Application Default Credentials.
func NewPubSubQueue(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubQueue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	name := fullTopicName(projectID, topicID)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic lookup failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get pubsub topic %q: %w", topicID, err)
	}
	if topic.State != pubsubpb.Topic_ACTIVE {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic state check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q is not active in project %q", topicID, projectID)
	}

	return &PubSubQueue{client: client, topic: name, logger: logger}, nil
}

// Enqueue publishes one investigation task and waits for the server
// acknowledgement, so callers learn about failed scheduling.
func (q *PubSubQueue) Enqueue(ctx context.Context, investigationID string, imageBytes []byte, metadata map[string]string) error {
	attrs := map[string]string{"investigation_id": investigationID}
	for k, v := range metadata {
		attrs[k] = v
	}

	publisher := q.client.Publisher(q.topic)
	result := publisher.Publish(ctx, &pubsub.Message{
		Data:       imageBytes,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish investigation %s: %w", investigationID, err)
	}
	return nil
}

// Close shuts down the underlying client connection.
func (q *PubSubQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
