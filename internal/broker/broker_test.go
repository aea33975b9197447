package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

var testLanes = Lanes{High: "queue.high_priority", Low: "queue.low_priority"}

func TestLaneForTier(t *testing.T) {
	assert.Equal(t, "queue.high_priority", testLanes.ForTier(model.TierPro))
	assert.Equal(t, "queue.low_priority", testLanes.ForTier(model.TierFree))
	assert.Equal(t, "queue.low_priority", testLanes.ForTier(model.Tier("junk")))
}

func TestMemoryBrokerRoundTrip(t *testing.T) {
	b := NewMemoryBroker(testLanes)
	msg := model.NewWakeMessage(uuid.New(), model.TierPro, model.WakeSourceScheduled, time.Now())
	require.NoError(t, b.Publish(context.Background(), testLanes.High, msg))

	deliveries := b.Drain()
	require.Len(t, deliveries, 1)

	var got model.WakeMessage
	require.NoError(t, json.Unmarshal(deliveries[0].Body, &got))
	assert.Equal(t, msg.AgentID, got.AgentID)

	assert.Zero(t, b.Acked())
	require.NoError(t, deliveries[0].Ack())
	assert.Equal(t, 1, b.Acked())
}

func TestMemoryBrokerDrainsHighLaneFirst(t *testing.T) {
	b := NewMemoryBroker(testLanes)
	low := model.NewWakeMessage(uuid.New(), model.TierFree, model.WakeSourceScheduled, time.Now())
	high := model.NewWakeMessage(uuid.New(), model.TierPro, model.WakeSourceScheduled, time.Now())
	require.NoError(t, b.Publish(context.Background(), testLanes.Low, low))
	require.NoError(t, b.Publish(context.Background(), testLanes.High, high))

	deliveries := b.Drain()
	require.Len(t, deliveries, 2)
	var first model.WakeMessage
	require.NoError(t, json.Unmarshal(deliveries[0].Body, &first))
	assert.Equal(t, high.AgentID, first.AgentID)
}
