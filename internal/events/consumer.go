package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       *consumerGroupHandler
	logger        *logrus.Logger
	topics        []string
}

type consumerGroupHandler struct {
	handler OrderEventHandler
	dlq     sarama.SyncProducer
	topic   string
	retry   RetryPolicy
	logger  *logrus.Logger
}

// NewKafkaConsumer joins groupID on topic. Undecodable messages and messages
// whose handler still fails after the retry policy are copied to the
// dead-letter topic and committed. A message that can be neither handled nor
// dead-lettered ends the claim, so the group resumes from the last committed
// offset instead of skipping it.
func NewKafkaConsumer(brokers, groupID, topic string, handler OrderEventHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	if topic == "" {
		topic = OrderPlacedTopic
	}
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	addrs := strings.Split(brokers, ",")
	consumerGroup, err := sarama.NewConsumerGroup(addrs, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	dlq, err := sarama.NewSyncProducer(addrs, NewProducerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		handler: &consumerGroupHandler{
			handler: handler,
			dlq:     dlq,
			topic:   topic,
			retry:   DefaultRetryPolicy(),
			logger:  logger,
		},
		logger: logger,
		topics: []string{topic},
	}, nil
}

// Start consumes until ctx is cancelled.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *KafkaConsumer) Close() error {
	err := c.consumerGroup.Close()
	if dlqErr := c.handler.dlq.Close(); err == nil {
		err = dlqErr
	}
	return err
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if !h.process(session.Context(), message) {
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process reports whether the message may be committed.
func (h *consumerGroupHandler) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	log := h.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	})

	if message.Topic != h.topic {
		log.Warn("Unknown topic received")
		return true
	}

	event, err := DecodeOrderPlaced(message.Value)
	if err != nil {
		log.WithError(err).Error("Undecodable order event")
		if dlqErr := h.sendToDLQ(message, err); dlqErr != nil {
			log.WithError(dlqErr).Error("Failed to send message to dead letter queue")
			return false
		}
		return true
	}

	if err := h.retry.handle(ctx, h.handler, event, log); err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.WithError(err).WithField("order_id", event.OrderID).Error("Failed to handle order event")
		if dlqErr := h.sendToDLQ(message, err); dlqErr != nil {
			log.WithError(dlqErr).Error("Failed to send message to dead letter queue")
			return false
		}
	}
	return true
}

func (h *consumerGroupHandler) sendToDLQ(message *sarama.ConsumerMessage, cause error) error {
	dlqMessage := &sarama.ProducerMessage{
		Topic: OrderPlacedDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(fmt.Sprintf("%d", message.Partition))},
			{Key: []byte("original_offset"), Value: []byte(fmt.Sprintf("%d", message.Offset))},
			{Key: []byte("error"), Value: []byte(cause.Error())},
			{Key: []byte("failure_time"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	partition, offset, err := h.dlq.SendMessage(dlqMessage)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"dlq_topic":     OrderPlacedDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
	}).Warn("Message sent to dead letter queue")
	return nil
}
