package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/signaltrail/pkg/config"
)

var errNoBrokers = errors.New("no kafka brokers configured")

// Producer writes aggregation requests to the request topic. Messages are
// hashed by key so every request for a cell lands on the same partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a synchronous producer for the aggregation topic
func NewProducer(cfg *config.KafkaConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.TopicAggregation,
			Balancer: &kafka.Hash{},
			// Ingestion waits on the write, so flush small batches quickly
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishBatch writes messages in one call
func (p *Producer) PublishBatch(ctx context.Context, messages []kafka.Message) error {
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to publish %d aggregation requests: %w", len(messages), err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads aggregation requests as a member of the configured group.
// Offsets are committed explicitly after a request has been handed off.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a group reader. A new group starts from the earliest
// offset so requests published before the first deploy are not lost.
func NewConsumer(cfg *config.KafkaConfig) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.TopicAggregation,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// Consume blocks for the next message without committing it
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch aggregation request: %w", err)
	}
	return msg, nil
}

func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %d on partition %d: %w", msg.Offset, msg.Partition, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Lag returns how many messages the consumer is behind
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}

// EnsureTopic creates the aggregation topic through the cluster controller.
// An existing topic is not an error.
func EnsureTopic(cfg *config.KafkaConfig, replicationFactor int) error {
	if len(cfg.Brokers) == 0 {
		return errNoBrokers
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.TopicAggregation,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: replicationFactor,
	})
	switch {
	case errors.Is(err, kafka.TopicAlreadyExists):
		log.Printf("[Kafka] Topic %s already exists", cfg.TopicAggregation)
	case err != nil:
		return fmt.Errorf("failed to create topic %s: %w", cfg.TopicAggregation, err)
	default:
		log.Printf("[Kafka] Created topic %s with %d partitions", cfg.TopicAggregation, cfg.NumPartitions)
	}
	return nil
}
