package network

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
	"github.com/dynamicdevices/uwb-bridge/internal/loracache"
	"github.com/dynamicdevices/uwb-bridge/internal/validate"
)

func mustNodeId(t *testing.T, hex string) framer.NodeId {
	t.Helper()
	n, err := strconv.ParseUint(hex, 16, 16)
	require.NoError(t, err)
	return framer.NodeId(n)
}

func scenarioAEdges(t *testing.T) []framer.Edge {
	t.Helper()
	d := float32(1066) * framer.TwrToMeters
	return []framer.Edge{
		{A: mustNodeId(t, "B4D3"), B: mustNodeId(t, "B98A"), Distance: d},
		{A: mustNodeId(t, "B4D3"), B: mustNodeId(t, "B4F1"), Distance: d},
		{A: mustNodeId(t, "B98A"), B: mustNodeId(t, "B4F1"), Distance: d},
	}
}

func TestBuildScenarioANoAnchorsNoCache(t *testing.T) {
	edges := scenarioAEdges(t)
	net := Build(edges, nil, nil, time.Now(), DefaultConfig())

	require.Len(t, net.Uwbs, 3)
	ids := []string{net.Uwbs[0].Id, net.Uwbs[1].Id, net.Uwbs[2].Id}
	assert.Equal(t, []string{"B4D3", "B4F1", "B98A"}, ids, "nodes must be sorted lexicographically by hex id")

	for _, n := range net.Uwbs {
		assert.False(t, n.PositionKnown)
		assert.Len(t, n.Edges, 2)
		for _, e := range n.Edges {
			assert.InDelta(t, 5.000, e.Distance, 0.001)
		}
	}
}

func TestBuildScenarioBAnchorOverride(t *testing.T) {
	edges := scenarioAEdges(t)
	anchors := AnchorMap{mustNodeId(t, "B4D3"): {Lat: 51.52, Lon: -0.75, Alt: 0}}

	net := Build(edges, anchors, nil, time.Now(), DefaultConfig())

	var b4d3 Node
	for _, n := range net.Uwbs {
		if n.Id == "B4D3" {
			b4d3 = n
		}
	}
	assert.True(t, b4d3.PositionKnown)
	assert.Equal(t, [3]float64{51.52, -0.75, 0}, b4d3.LatLonAlt)
	assert.Equal(t, "anchor_config", b4d3.PositionSource)
}

func TestBuildScenarioCLoraGpsInjection(t *testing.T) {
	edges := scenarioAEdges(t)
	lat, lon, alt, acc := 51.5238, -0.7514, 50.8, 5.0
	battery := 85.0
	triage := 0.0
	capture := time.Now().Add(-10 * time.Second)

	cache := map[framer.NodeId]loracache.Record{
		mustNodeId(t, "B98A"): {
			CaptureTimestamp: capture,
			Location:         loracache.Location{Latitude: &lat, Longitude: &lon, Altitude: &alt, Accuracy: &acc, Source: "frm-payload"},
			DecodedPayload:   loracache.DecodedPayload{Battery: &battery, Triage: &triage},
		},
	}

	net := Build(edges, nil, cache, time.Now(), DefaultConfig())

	var b98a Node
	for _, n := range net.Uwbs {
		if n.Id == "B98A" {
			b98a = n
		}
	}
	assert.True(t, b98a.PositionKnown)
	assert.Equal(t, [3]float64{51.5238, -0.7514, 50.8}, b98a.LatLonAlt)
	assert.Equal(t, 5.0, b98a.PositionAccuracy)
	assert.Equal(t, "frm-payload", b98a.PositionSource)
	require.NotNil(t, b98a.Battery)
	assert.Equal(t, 85.0, *b98a.Battery)
	assert.Equal(t, float64(capture.Unix()), b98a.LastPositionUpdateTime)
}

func TestBuildAnchorWithFreshLoraKeepsAnchorPositionButCopiesTelemetry(t *testing.T) {
	edges := scenarioAEdges(t)
	lat, lon := 51.5, -0.1
	battery := 42.0

	cache := map[framer.NodeId]loracache.Record{
		mustNodeId(t, "B4D3"): {
			CaptureTimestamp: time.Now(),
			Location:         loracache.Location{Latitude: &lat, Longitude: &lon, Source: "gps"},
			DecodedPayload:   loracache.DecodedPayload{Battery: &battery},
		},
	}
	anchors := AnchorMap{mustNodeId(t, "B4D3"): {Lat: 51.52, Lon: -0.75, Alt: 0}}

	net := Build(edges, anchors, cache, time.Now(), DefaultConfig())

	var b4d3 Node
	for _, n := range net.Uwbs {
		if n.Id == "B4D3" {
			b4d3 = n
		}
	}
	assert.Equal(t, [3]float64{51.52, -0.75, 0}, b4d3.LatLonAlt, "anchor position wins over fresh LoRa GPS")
	assert.Equal(t, "anchor_config,lora_gps", b4d3.PositionSource)
	require.NotNil(t, b4d3.Battery)
	assert.Equal(t, 42.0, *b4d3.Battery)
}

func TestBuildStaleLoraGpsDoesNotResolvePosition(t *testing.T) {
	edges := scenarioAEdges(t)
	lat, lon := 51.5, -0.1

	cache := map[framer.NodeId]loracache.Record{
		mustNodeId(t, "B4F1"): {
			CaptureTimestamp: time.Now().Add(-400 * time.Second),
			Location:         loracache.Location{Latitude: &lat, Longitude: &lon, Source: "gps"},
		},
	}

	net := Build(edges, nil, cache, time.Now(), DefaultConfig())
	var b4f1 Node
	for _, n := range net.Uwbs {
		if n.Id == "B4F1" {
			b4f1 = n
		}
	}
	assert.False(t, b4f1.PositionKnown)
}

func TestBuildEveryEdgeIsSymmetricAcrossBothEndpoints(t *testing.T) {
	edges := scenarioAEdges(t)
	net := Build(edges, nil, nil, time.Now(), DefaultConfig())

	byId := make(map[string]Node, len(net.Uwbs))
	for _, n := range net.Uwbs {
		byId[n.Id] = n
	}
	for _, e := range edges {
		a, b := e.A.String(), e.B.String()
		assert.True(t, edgeListContains(byId[a].Edges, a, b))
		assert.True(t, edgeListContains(byId[b].Edges, a, b))
	}
}

func edgeListContains(edges []EdgeRef, a, b string) bool {
	for _, e := range edges {
		if (e.End0 == a && e.End1 == b) || (e.End0 == b && e.End1 == a) {
			return true
		}
	}
	return false
}

func TestBuildWithNoEdgesYieldsEmptyNetwork(t *testing.T) {
	net := Build(nil, nil, nil, time.Now(), DefaultConfig())
	assert.Empty(t, net.Uwbs)
}

func TestBuildDeviceGpsDiagnosticsOnlyWithoutResolvedLocation(t *testing.T) {
	edges := scenarioAEdges(t)
	fixType := "3D"
	sats := 7

	cache := map[framer.NodeId]loracache.Record{
		mustNodeId(t, "B4F1"): {
			CaptureTimestamp: time.Now(),
			DecodedPayload:   loracache.DecodedPayload{FixType: &fixType, Satellites: &sats},
		},
	}
	net := Build(edges, nil, cache, time.Now(), DefaultConfig())
	var b4f1 Node
	for _, n := range net.Uwbs {
		if n.Id == "B4F1" {
			b4f1 = n
		}
	}
	require.NotNil(t, b4f1.FixType)
	assert.Equal(t, "3D", *b4f1.FixType)
	require.NotNil(t, b4f1.Satellites)
	assert.Equal(t, 7, *b4f1.Satellites)
}

func TestBuildDropsOutOfRangeBatteryAndTemperatureWhenValidated(t *testing.T) {
	edges := scenarioAEdges(t)
	battery := 150.0
	temperature := 200.0

	cache := map[framer.NodeId]loracache.Record{
		mustNodeId(t, "B4F1"): {
			CaptureTimestamp: time.Now(),
			DecodedPayload:   loracache.DecodedPayload{Battery: &battery, Temperature: &temperature},
		},
	}

	cfg := DefaultConfig()
	cfg.Validator = validate.New(validate.DefaultBounds())
	net := Build(edges, nil, cache, time.Now(), cfg)

	var b4f1 Node
	for _, n := range net.Uwbs {
		if n.Id == "B4F1" {
			b4f1 = n
		}
	}
	assert.Nil(t, b4f1.Battery, "out-of-range battery must be dropped, not published")
	assert.Nil(t, b4f1.Temperature, "out-of-range temperature must be dropped, not published")
}

func TestBuildKeepsInRangeBatteryAndTemperatureWhenValidated(t *testing.T) {
	edges := scenarioAEdges(t)
	battery := 72.0
	temperature := 21.5

	cache := map[framer.NodeId]loracache.Record{
		mustNodeId(t, "B4F1"): {
			CaptureTimestamp: time.Now(),
			DecodedPayload:   loracache.DecodedPayload{Battery: &battery, Temperature: &temperature},
		},
	}

	cfg := DefaultConfig()
	cfg.Validator = validate.New(validate.DefaultBounds())
	net := Build(edges, nil, cache, time.Now(), cfg)

	var b4f1 Node
	for _, n := range net.Uwbs {
		if n.Id == "B4F1" {
			b4f1 = n
		}
	}
	require.NotNil(t, b4f1.Battery)
	assert.Equal(t, 72.0, *b4f1.Battery)
	require.NotNil(t, b4f1.Temperature)
	assert.Equal(t, 21.5, *b4f1.Temperature)
}
