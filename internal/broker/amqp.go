package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// AMQPBroker is the RabbitMQ-backed broker. One connection is shared; the
// publisher and each consumer get their own channel (AMQP channels are not
// safe for concurrent use).
type AMQPBroker struct {
	conn   *amqp.Connection
	lanes  Lanes
	logger *slog.Logger

	mu     sync.Mutex
	pubCh  *amqp.Channel
	closed bool
}

// NewAMQPBroker dials the broker and declares both lanes as durable queues.
func NewAMQPBroker(url string, lanes Lanes, logger *slog.Logger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("broker: open publish channel: %w", err)
	}

	for _, lane := range lanes.All() {
		if _, err := pubCh.QueueDeclare(lane, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("broker: declare %s: %w", lane, err)
		}
	}

	return &AMQPBroker{
		conn:   conn,
		lanes:  lanes,
		logger: logger,
		pubCh:  pubCh,
	}, nil
}

// Publish implements Publisher with persistent delivery mode so messages
// survive a broker restart.
func (b *AMQPBroker) Publish(ctx context.Context, lane string, msg model.WakeMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal wake message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker: publish on closed broker")
	}

	err = b.pubCh.PublishWithContext(ctx, "", lane, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", lane, err)
	}
	return nil
}

// NewConsumer opens a dedicated channel with prefetch 1 and consumes both
// lanes into a single delivery stream. Each worker instance owns one
// consumer, which is what bounds its concurrency to one in-flight message.
func (b *AMQPBroker) NewConsumer() (Consumer, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open consume channel: %w", err)
	}

	// Prefetch 1: the broker holds further messages until the current one
	// is acknowledged.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}

	out := make(chan Delivery)
	done := make(chan struct{})
	var wg sync.WaitGroup

	for _, lane := range b.lanes.All() {
		msgs, err := ch.Consume(lane, "", false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("broker: consume %s: %w", lane, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pump(msgs, out, done)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return &amqpConsumer{ch: ch, deliveries: out, done: done}, nil
}

// pump forwards raw deliveries into the merged stream until the source
// channel closes or the consumer is closed. The done check matters when the
// reader is already gone at Close time: without it the send would block the
// goroutine forever.
func pump(msgs <-chan amqp.Delivery, out chan<- Delivery, done <-chan struct{}) {
	for m := range msgs {
		d := NewDelivery(m.Body, func() error {
			return m.Ack(false)
		})
		select {
		case out <- d:
		case <-done:
			// Unacked; the broker redelivers once the channel closes.
			return
		}
	}
}

type amqpConsumer struct {
	ch         *amqp.Channel
	deliveries chan Delivery
	done       chan struct{}
	once       sync.Once
}

func (c *amqpConsumer) Deliveries() <-chan Delivery { return c.deliveries }

func (c *amqpConsumer) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ch.Close()
}

// Close shuts down the publish channel and the connection.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	if err := b.pubCh.Close(); err != nil {
		b.logger.Warn("broker: close publish channel", "error", err)
	}
	return b.conn.Close()
}
