package queue

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/protocol"
)

// MessageSource is a committing Kafka reader
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// CellSubmitter accepts cells for aggregation, blocking when busy
type CellSubmitter interface {
	Submit(ctx context.Context, cell grid.CellID) error
}

// Dispatcher moves aggregation requests from Kafka into the worker pool.
// Offsets are committed once the cell has been queued.
type Dispatcher struct {
	source       MessageSource
	pool         CellSubmitter
	retryBackoff time.Duration
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(source MessageSource, pool CellSubmitter) *Dispatcher {
	return &Dispatcher{
		source:       source,
		pool:         pool,
		retryBackoff: time.Second,
	}
}

// Run consumes until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Kafka] Consumer error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.retryBackoff):
			}
			continue
		}

		req, err := protocol.DecodeAggregationRequest(msg.Value)
		if err != nil {
			log.Printf("[Kafka] Skipping undecodable message at offset %d: %v", msg.Offset, err)
		} else if err := d.pool.Submit(ctx, grid.CellID(req.CellID)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Kafka] Failed to submit cell %s: %v", req.CellID, err)
			return err
		}

		if err := d.source.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Kafka] Failed to commit offset %d: %v", msg.Offset, err)
		}
	}
}
