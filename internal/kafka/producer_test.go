package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStatusEvent(t *testing.T) {
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := EncodeStatusEvent(model.StatusEvent{
		ID:         "01J0000000000000000000000A",
		Status:     model.StatusFailed,
		Error:      "timeout",
		Recipients: 2,
		OccurredAt: at,
	})
	require.NoError(t, err)

	assert.Equal(t, "01J0000000000000000000000A", string(m.Key))
	assert.True(t, at.Equal(m.Time))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "event_type", m.Headers[0].Key)
	assert.Equal(t, "email.failed", string(m.Headers[0].Value))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(m.Value, &payload))
	assert.Equal(t, "failed", payload["status"])
	assert.Equal(t, "timeout", payload["error"])
	assert.EqualValues(t, 2, payload["recipients"])
}

func TestEncodeStatusEvent_InvalidStatus(t *testing.T) {
	_, err := EncodeStatusEvent(model.StatusEvent{ID: "x"})
	assert.Error(t, err)
}

func TestNewPublisherFromConfig_Defaults(t *testing.T) {
	p := NewPublisherFromConfig(Config{Brokers: []string{"127.0.0.1:9092"}})
	defer p.Close()

	assert.Equal(t, "email.status", p.w.Topic)
	assert.Equal(t, 50*time.Millisecond, p.w.BatchTimeout)
}
