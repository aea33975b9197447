// Package broker provides the durable priority lanes that carry wake
// messages from the dispatcher to the worker pipeline.
//
// Two physically separate lanes exist so a backlog of low-priority (free
// tier) wakes never delays high-priority delivery. Messages are durable and
// consumed at-least-once with manual acknowledgment; consumers run with a
// prefetch of one so a slow decision call never buffers further messages
// behind a busy worker.
package broker

import (
	"context"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// Lanes names the two priority queues.
type Lanes struct {
	High string
	Low  string
}

// ForTier routes a tier to its lane: pro wakes go high, everything else low.
func (l Lanes) ForTier(tier model.Tier) string {
	if tier == model.TierPro {
		return l.High
	}
	return l.Low
}

// All returns both lane names, high first.
func (l Lanes) All() []string {
	return []string{l.High, l.Low}
}

// Publisher enqueues wake messages onto a named lane. Append-only: a
// published message is immutable and cannot be recalled.
type Publisher interface {
	Publish(ctx context.Context, lane string, msg model.WakeMessage) error
}

// Delivery is one received message awaiting settlement. Ack must be called
// exactly once for every delivery — including failed ones — or the broker
// redelivers the message.
type Delivery struct {
	Body []byte
	ack  func() error
}

// NewDelivery wraps a raw body and its settlement callback. Exported for
// broker implementations and test fakes.
func NewDelivery(body []byte, ack func() error) Delivery {
	return Delivery{Body: body, ack: ack}
}

// Ack settles the delivery.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Consumer delivers messages from one or more lanes, one at a time.
type Consumer interface {
	// Deliveries returns the channel of incoming messages. The channel is
	// closed when the consumer shuts down.
	Deliveries() <-chan Delivery

	// Close stops consumption.
	Close() error
}
