package loracache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
)

func testMapping(t *testing.T) (DevEuiToNodeId, framer.DevEui, framer.NodeId) {
	t.Helper()
	m, err := ParseDevEuiToNodeIdMap(map[string]string{"70B3D57ED0041234": "00A1"})
	require.NoError(t, err)
	eui, err := parseDevEuiHex("70B3D57ED0041234")
	require.NoError(t, err)
	return m, eui, framer.NodeId(0x00A1)
}

func TestCachePutPopulatesBothIndices(t *testing.T) {
	mapping, eui, nodeId := testMapping(t)
	c := New(mapping, DefaultTTLConfig())
	now := time.Unix(1000, 0)
	c.Put(&Record{DevEui: eui, CaptureTimestamp: now})

	byDevEui, ok := c.GetByDevEui(eui)
	require.True(t, ok)
	assert.Equal(t, eui, byDevEui.DevEui)

	byNodeId, ok := c.GetByNodeId(nodeId, 0, true, now)
	require.True(t, ok)
	assert.Equal(t, eui, byNodeId.DevEui)
}

func TestCachePutWithoutMappingOnlyPopulatesDevEuiIndex(t *testing.T) {
	c := New(DevEuiToNodeId{}, DefaultTTLConfig())
	eui, _ := parseDevEuiHex("70B3D57ED0041234")
	now := time.Unix(1000, 0)
	c.Put(&Record{DevEui: eui, CaptureTimestamp: now})

	_, ok := c.GetByDevEui(eui)
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, 1, stats.DevEuiCount)
	assert.Equal(t, 0, stats.NodeIdCount)
}

func TestGetByNodeIdSensorTtlBoundary(t *testing.T) {
	mapping, eui, nodeId := testMapping(t)
	ttl := TTLConfig{GpsTtl: 300 * time.Second, SensorTtl: 600 * time.Second}
	c := New(mapping, ttl)

	capture := time.Unix(10_000, 0)
	c.Put(&Record{DevEui: eui, CaptureTimestamp: capture})

	justBefore := capture.Add(600*time.Second - time.Millisecond)
	_, ok := c.GetByNodeId(nodeId, 0, true, justBefore)
	assert.True(t, ok, "record should still be present just before sensorTtl elapses")

	justAfter := capture.Add(600*time.Second + time.Millisecond)
	_, ok = c.GetByNodeId(nodeId, 0, true, justAfter)
	assert.False(t, ok, "record should be gone just after sensorTtl elapses")
}

func TestGetByNodeIdGpsTtlBoundaryAppliesOnlyWithCoordinates(t *testing.T) {
	mapping, eui, nodeId := testMapping(t)
	ttl := TTLConfig{GpsTtl: 300 * time.Second, SensorTtl: 600 * time.Second}
	c := New(mapping, ttl)

	capture := time.Unix(10_000, 0)
	lat, lon := 51.5, -0.1
	c.Put(&Record{
		DevEui:           eui,
		CaptureTimestamp: capture,
		Location:         Location{Latitude: &lat, Longitude: &lon, Source: "gps"},
	})

	justBefore := capture.Add(300*time.Second - time.Millisecond)
	_, ok := c.GetByNodeId(nodeId, 0, true, justBefore)
	assert.True(t, ok)

	justAfter := capture.Add(300*time.Second + time.Millisecond)
	_, ok = c.GetByNodeId(nodeId, 0, true, justAfter)
	assert.False(t, ok, "gps record should expire at gpsTtl even though sensorTtl is longer")

	// With staleness checking disabled the longer sensorTtl applies instead.
	_, ok = c.GetByNodeId(nodeId, 0, false, justAfter)
	assert.True(t, ok)
}

func TestGetByNodeIdMaxAgeOverridesConfiguredTtls(t *testing.T) {
	mapping, eui, nodeId := testMapping(t)
	c := New(mapping, DefaultTTLConfig())
	capture := time.Unix(10_000, 0)
	c.Put(&Record{DevEui: eui, CaptureTimestamp: capture})

	_, ok := c.GetByNodeId(nodeId, 5*time.Second, true, capture.Add(10*time.Second))
	assert.False(t, ok)
}

func TestSweepRemovesExpiredEntriesFromBothIndices(t *testing.T) {
	mapping, eui, _ := testMapping(t)
	ttl := TTLConfig{GpsTtl: 300 * time.Second, SensorTtl: 600 * time.Second}
	c := New(mapping, ttl)
	capture := time.Unix(10_000, 0)
	c.Put(&Record{DevEui: eui, CaptureTimestamp: capture})

	devEuiRemoved, nodeIdRemoved := c.Sweep(capture.Add(1000 * time.Second))
	assert.Equal(t, 1, devEuiRemoved)
	assert.Equal(t, 1, nodeIdRemoved)

	stats := c.Stats()
	assert.Equal(t, 0, stats.DevEuiCount)
	assert.Equal(t, 0, stats.NodeIdCount)
}

func TestSnapshotIsACopyNotALiveView(t *testing.T) {
	mapping, eui, nodeId := testMapping(t)
	c := New(mapping, DefaultTTLConfig())
	now := time.Unix(1000, 0)
	c.Put(&Record{DevEui: eui, CaptureTimestamp: now})

	snap := c.Snapshot()
	require.Contains(t, snap, nodeId)

	c.Put(&Record{DevEui: eui, CaptureTimestamp: now.Add(time.Hour)})
	assert.Equal(t, now, snap[nodeId].CaptureTimestamp, "snapshot must not observe later writes")
}
