package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// DeadLetterMonitor logs every message parked on the dead-letter topic so
// an operator can replay or discard it.
type DeadLetterMonitor struct {
	group  sarama.ConsumerGroup
	topic  string
	logger *logrus.Logger
}

func NewDeadLetterMonitor(brokers, groupID string, logger *logrus.Logger) (*DeadLetterMonitor, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer group: %w", err)
	}
	return &DeadLetterMonitor{group: group, topic: OrderPlacedDLQTopic, logger: logger}, nil
}

// Start consumes until ctx is cancelled.
func (m *DeadLetterMonitor) Start(ctx context.Context) error {
	for {
		if err := m.group.Consume(ctx, []string{m.topic}, m); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			m.logger.WithError(err).Error("Error consuming from DLQ")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (m *DeadLetterMonitor) Close() error {
	return m.group.Close()
}

func (m *DeadLetterMonitor) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (m *DeadLetterMonitor) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (m *DeadLetterMonitor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		m.logger.WithFields(DeadLetterFields(message)).Warn("Dead letter detected")
		session.MarkMessage(message, "")
	}
	return nil
}

// DeadLetterFields describes a dead-lettered message: where it came from,
// why it failed and whatever order details can still be read from it.
func DeadLetterFields(message *sarama.ConsumerMessage) logrus.Fields {
	fields := logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}
	for _, h := range message.Headers {
		if h == nil {
			continue
		}
		switch k := string(h.Key); k {
		case "original_topic", "original_partition", "original_offset", "error", "failure_time":
			fields[k] = string(h.Value)
		}
	}

	ev, err := DecodeOrderPlaced(message.Value)
	if err != nil {
		fields["payload_error"] = err.Error()
		fields["payload_bytes"] = len(message.Value)
		return fields
	}
	fields["order_id"] = ev.OrderID
	fields["total_price"] = ev.TotalPrice
	return fields
}
