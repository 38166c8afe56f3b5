package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/protocol"
)

// BatchPublisher writes messages to the aggregation topic.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, messages []kafka.Message) error
}

// KafkaTrigger publishes one aggregation request per cell, keyed by cell id
// so requests for the same cell land on the same partition.
type KafkaTrigger struct {
	publisher BatchPublisher
	reason    string
	now       func() time.Time
}

// NewKafkaTrigger creates a trigger that tags requests with reason
func NewKafkaTrigger(publisher BatchPublisher, reason string) *KafkaTrigger {
	return &KafkaTrigger{
		publisher: publisher,
		reason:    reason,
		now:       time.Now,
	}
}

// Enqueue publishes aggregation requests for cells
func (t *KafkaTrigger) Enqueue(ctx context.Context, cells []grid.CellID) error {
	if len(cells) == 0 {
		return nil
	}

	requestedAt := t.now().UTC()
	messages := make([]kafka.Message, 0, len(cells))
	for _, cell := range cells {
		value, err := protocol.EncodeAggregationRequest(&protocol.AggregationRequest{
			CellID:      string(cell),
			Reason:      t.reason,
			RequestedAt: requestedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to encode aggregation request: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(cell),
			Value: value,
		})
	}

	return t.publisher.PublishBatch(ctx, messages)
}
