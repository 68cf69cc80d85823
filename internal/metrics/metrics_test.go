package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
)

func TestObserveGathersWithoutError(t *testing.T) {
	r := New()
	h := resilience.NewHealth(resilience.DefaultHealthConfig(), time.Now())
	h.RecordSuccessfulPacket(time.Now())
	h.RecordMqttPublish(true)

	mqttTrue := true
	h.UpdateConnectionStatus(time.Now(), true, &mqttTrue, &mqttTrue)
	doc := h.Snapshot(time.Now())

	r.Observe(doc)
	r.ObserveCache(3, 2)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
