package kafka

import (
	"encoding/json"
	"testing"

	"github.com/example/supply-marketplace/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_EventEnvelope(t *testing.T) {
	ev, err := events.New("Order", "order-1", "OrderPlaced", map[string]string{"order_id": "order-1"})
	require.NoError(t, err)

	msg, err := message("order-1", ev)

	require.NoError(t, err)
	assert.Equal(t, []byte("order-1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, headerEventType, msg.Headers[0].Key)
	assert.Equal(t, "OrderPlaced", string(msg.Headers[0].Value))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(decoded.Data))
}

func TestMessage_PlainValue(t *testing.T) {
	msg, err := message("k", map[string]int{"n": 1})

	require.NoError(t, err)
	assert.Empty(t, msg.Headers)
	assert.JSONEq(t, `{"n":1}`, string(msg.Value))

	_, err = message("k", make(chan int))
	assert.Error(t, err)
}
