package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	payload := map[string]string{"orderId": "order-1"}
	ev, err := NewEvent("ORDER", "order-1", "order.created", payload)
	require.NoError(t, err)

	assert.NotEqual(t, [16]byte{}, [16]byte(ev.ID), "event id is stamped")
	assert.Equal(t, "ORDER", ev.AggregateType)
	assert.Equal(t, "order-1", ev.AggregateID)
	assert.Equal(t, "order.created", ev.Type)
	assert.False(t, ev.Processed)
	assert.WithinDuration(t, time.Now().UTC(), ev.CreatedAt, time.Minute)

	var got map[string]string
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestNewEventRejectsUnmarshalablePayload(t *testing.T) {
	_, err := NewEvent("ORDER", "order-1", "order.created", make(chan int))
	assert.Error(t, err)
}

func TestDefaultPublisherConfig(t *testing.T) {
	cfg := DefaultPublisherConfig()
	assert.Equal(t, 5*time.Second, cfg.DrainInterval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 24*time.Hour, cfg.ProcessedTTL)
	assert.Equal(t, 1000, cfg.CleanupBatch)
}
