package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/flowboard/hub/pkg/protocol"
)

// NewSaramaConfig returns the client config shared by the producer and the
// consumer.
func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "flowboard-hub"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Consumer.Return.Errors = true
	return config
}

// KafkaNotifier publishes relay frames to a topic instead of holding a
// socket to the hub. Messages are keyed by user id so one user's
// notifications stay on one partition.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaNotifier creates a notifier over an existing producer.
func NewKafkaNotifier(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger.Named("kafka"),
	}
}

// DialKafkaNotifier connects a producer to brokers.
func DialKafkaNotifier(brokers []string, topic string, logger *zap.Logger) (*KafkaNotifier, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaNotifier(producer, topic, logger), nil
}

// SendNotificationToUser implements Notifier.
func (n *KafkaNotifier) SendNotificationToUser(_ context.Context, userID string, message any) error {
	frame, err := protocol.NewRelayFrame(userID, message)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}

	partition, offset, err := n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish relay frame: %w", err)
	}

	n.logger.Debug("relay frame published",
		zap.String("user_id", userID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close closes the producer.
func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}

// Relayer accepts raw relay frames; *ws.Hub implements it.
type Relayer interface {
	Relay(data []byte) (bool, error)
}

// Consumer feeds relay frames from a topic into the hub. It reads every
// partition from the newest offset, since notifications for users who were
// offline are not kept.
type Consumer struct {
	consumer sarama.Consumer
	topic    string
	target   Relayer
	logger   *zap.Logger
}

// NewConsumer creates a consumer over an existing sarama consumer.
func NewConsumer(consumer sarama.Consumer, topic string, target Relayer, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		consumer: consumer,
		topic:    topic,
		target:   target,
		logger:   logger.Named("kafka"),
	}
}

// DialConsumer connects a consumer to brokers.
func DialConsumer(brokers []string, topic string, target Relayer, logger *zap.Logger) (*Consumer, error) {
	consumer, err := sarama.NewConsumer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return NewConsumer(consumer, topic, target, logger), nil
}

// Run consumes until ctx is cancelled. It returns an error only if the
// partitions cannot be opened.
func (c *Consumer) Run(ctx context.Context) error {
	partitions, err := c.consumer.Partitions(c.topic)
	if err != nil {
		return fmt.Errorf("list partitions for %s: %w", c.topic, err)
	}

	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	for _, p := range partitions {
		pc, err := c.consumer.ConsumePartition(c.topic, p, sarama.OffsetNewest)
		if err != nil {
			for _, open := range pcs {
				open.Close()
			}
			return fmt.Errorf("consume partition %d: %w", p, err)
		}
		pcs = append(pcs, pc)
	}

	c.logger.Info("kafka consumer started", zap.String("topic", c.topic), zap.Int("partitions", len(pcs)))

	var wg sync.WaitGroup
	for _, pc := range pcs {
		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			c.consumePartition(ctx, pc)
		}(pc)
	}
	wg.Wait()

	for _, pc := range pcs {
		pc.Close()
	}
	c.logger.Info("kafka consumer stopped", zap.String("topic", c.topic))
	return nil
}

func (c *Consumer) consumePartition(ctx context.Context, pc sarama.PartitionConsumer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			c.handle(msg)
		case err, ok := <-pc.Errors():
			if !ok {
				return
			}
			c.logger.Warn("kafka consumer error", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(msg *sarama.ConsumerMessage) {
	delivered, err := c.target.Relay(msg.Value)
	if errors.Is(err, protocol.ErrInvalidRelayFrame) {
		c.logger.Warn("dropping malformed relay frame",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}
	if err != nil {
		c.logger.Error("relay failed", zap.Error(err))
		return
	}
	if !delivered {
		c.logger.Debug("relay frame had no live recipient", zap.Int64("offset", msg.Offset))
	}
}

// Close closes the underlying consumer.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}
