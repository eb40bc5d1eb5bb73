package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 3 * time.Second

// amqpChannel is the part of *amqp.Channel used here.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

func DialRabbit(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// declareQueues makes sure the event queue and its dead-letter queue exist
// so publish never fails due to missing infra.
func declareQueues(ch amqpChannel, queue string) error {
	for _, name := range []string{queue, queue + ".dlq"} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}
	}
	return nil
}

type RabbitPublisher struct {
	ch     amqpChannel
	queue  string
	logger *logrus.Logger
}

func NewRabbitPublisher(conn *amqp.Connection, queue string, logger *logrus.Logger) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newRabbitPublisher(ch, queue, logger)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, queue string, logger *logrus.Logger) (*RabbitPublisher, error) {
	if queue == "" {
		queue = OrderPlacedTopic
	}
	if err := declareQueues(ch, queue); err != nil {
		return nil, err
	}
	return &RabbitPublisher{ch: ch, queue: queue, logger: logger}, nil
}

func (p *RabbitPublisher) PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error {
	event.EventTime = time.Now().UTC()
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", OrderPlacedType, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Type:         event.EventType,
		Timestamp:    event.EventTime,
		Body:         body,
	})
	if err != nil {
		p.logger.WithError(err).WithField("order_id", event.OrderID).Error("Failed to publish to RabbitMQ")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"queue":    p.queue,
		"order_id": event.OrderID,
	}).Info("Event published to RabbitMQ")
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.ch.Close()
}

type RabbitConsumer struct {
	ch      amqpChannel
	queue   string
	tag     string
	handler OrderEventHandler
	retry   RetryPolicy
	logger  *logrus.Logger
}

func NewRabbitConsumer(conn *amqp.Connection, queue, tag string, handler OrderEventHandler, logger *logrus.Logger) (*RabbitConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c, err := newRabbitConsumer(ch, queue, tag, handler, logger)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return c, nil
}

func newRabbitConsumer(ch amqpChannel, queue, tag string, handler OrderEventHandler, logger *logrus.Logger) (*RabbitConsumer, error) {
	if queue == "" {
		queue = OrderPlacedTopic
	}
	if err := declareQueues(ch, queue); err != nil {
		return nil, err
	}
	return &RabbitConsumer{ch: ch, queue: queue, tag: tag, handler: handler, retry: DefaultRetryPolicy(), logger: logger}, nil
}

// Start consumes until ctx is done or the delivery channel closes.
func (c *RabbitConsumer) Start(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.WithField("queue", c.queue).Info("Stopping RabbitMQ consumer")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.process(ctx, msg)
		}
	}
}

func (c *RabbitConsumer) process(ctx context.Context, msg amqp.Delivery) {
	log := c.logger.WithFields(logrus.Fields{
		"queue":       c.queue,
		"message_id":  msg.MessageId,
		"redelivered": msg.Redelivered,
	})

	event, err := DecodeOrderPlaced(msg.Body)
	if err != nil {
		log.WithError(err).Error("Undecodable order event")
		c.deadLetter(ctx, msg, err, log)
		return
	}

	if err := c.retry.handle(ctx, c.handler, event, log); err != nil {
		if ctx.Err() != nil {
			_ = msg.Nack(false, true)
			return
		}
		log.WithError(err).WithField("order_id", event.OrderID).Error("Failed to handle order event")
		c.deadLetter(ctx, msg, err, log)
		return
	}
	_ = msg.Ack(false)
}

// deadLetter moves msg to the dead-letter queue, or requeues it when that
// publish fails.
func (c *RabbitConsumer) deadLetter(ctx context.Context, msg amqp.Delivery, cause error, log *logrus.Entry) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := c.ch.PublishWithContext(pubCtx, "", c.queue+".dlq", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageId,
		Headers: amqp.Table{
			"error":        cause.Error(),
			"failure_time": time.Now().UTC().Format(time.RFC3339),
		},
		Body: msg.Body,
	})
	if err != nil {
		log.WithError(err).Error("Failed to send message to dead letter queue")
		_ = msg.Nack(false, true)
		return
	}
	log.WithField("dlq_queue", c.queue+".dlq").Warn("Message sent to dead letter queue")
	_ = msg.Ack(false)
}

func (c *RabbitConsumer) Close() error {
	return c.ch.Close()
}
