package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

// MemoryBroker is an in-process broker for tests and dev runs without
// RabbitMQ. Lanes are buffered channels; acknowledgments are counted so
// tests can assert settlement behavior.
type MemoryBroker struct {
	lanes Lanes

	mu        sync.Mutex
	queues    map[string][]json.RawMessage
	published map[string][]model.WakeMessage
	acked     int
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker(lanes Lanes) *MemoryBroker {
	return &MemoryBroker{
		lanes:     lanes,
		queues:    make(map[string][]json.RawMessage),
		published: make(map[string][]model.WakeMessage),
	}
}

// Publish implements Publisher.
func (b *MemoryBroker) Publish(_ context.Context, lane string, msg model.WakeMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal wake message: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[lane] = append(b.queues[lane], body)
	b.published[lane] = append(b.published[lane], msg)
	return nil
}

// PublishRaw enqueues an arbitrary body, bypassing the schema. Lets tests
// exercise the consumer's malformed-message path.
func (b *MemoryBroker) PublishRaw(lane string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[lane] = append(b.queues[lane], body)
}

// Published returns the wake messages published to a lane, in order.
func (b *MemoryBroker) Published(lane string) []model.WakeMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.WakeMessage, len(b.published[lane]))
	copy(out, b.published[lane])
	return out
}

// Acked returns the number of settled deliveries.
func (b *MemoryBroker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

// Drain pops every queued body (high lane first) into a delivery slice.
// One-shot consumption for worker tests; real streaming lives in the AMQP
// implementation.
func (b *MemoryBroker) Drain() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Delivery
	for _, lane := range b.lanes.All() {
		for _, body := range b.queues[lane] {
			out = append(out, NewDelivery(body, func() error {
				b.mu.Lock()
				defer b.mu.Unlock()
				b.acked++
				return nil
			}))
		}
		b.queues[lane] = nil
	}
	return out
}
