package network

import (
	"sort"
	"time"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
	"github.com/dynamicdevices/uwb-bridge/internal/loracache"
	"github.com/dynamicdevices/uwb-bridge/internal/util"
	"github.com/dynamicdevices/uwb-bridge/internal/validate"
)

// Config holds the materialiser's few tunables, kept separate from the
// cache's own TTL config since the materialiser decides GPS freshness
// itself (a cache entry may outlive gpsTtl between eviction sweeps).
type Config struct {
	GpsTtl              time.Duration
	AlwaysEmitDeviceGps bool
	// Validator, when non-nil, gates LoRa GPS coordinates before they are
	// allowed to resolve a node's position: coordinates failing range
	// checks are treated as though the record had no GPS fix at all,
	// matching the original converter's "skip using this GPS data" path.
	Validator *validate.Validator
}

func DefaultConfig() Config {
	return Config{GpsTtl: 300 * time.Second, AlwaysEmitDeviceGps: false}
}

// Build is the pure function from (edges, anchors, cache snapshot, wall
// clock) to a Network document. Anchor and mapping tables are referenced,
// never copied; the returned Network owns its own freshly allocated nodes
// and edge slices since it is serialised immediately after construction.
func Build(edges []framer.Edge, anchors AnchorMap, cache map[framer.NodeId]loracache.Record, now time.Time, cfg Config) Network {
	ids := nodeIds(edges)

	nodes := make([]Node, len(ids))
	index := make(map[framer.NodeId]int, len(ids))
	for i, id := range ids {
		nodes[i] = buildNode(id, anchors, cache, now, cfg)
		index[id] = i
	}

	for _, e := range edges {
		ref := EdgeRef{End0: e.A.String(), End1: e.B.String(), Distance: roundMillimetres(float64(e.Distance))}
		if i, ok := index[e.A]; ok {
			nodes[i].Edges = append(nodes[i].Edges, ref)
		}
		if i, ok := index[e.B]; ok {
			nodes[i].Edges = append(nodes[i].Edges, ref)
		}
	}

	return Network{Uwbs: nodes}
}

func nodeIds(edges []framer.Edge) []framer.NodeId {
	seen := make(map[framer.NodeId]struct{})
	for _, e := range edges {
		seen[e.A] = struct{}{}
		seen[e.B] = struct{}{}
	}
	ids := make([]framer.NodeId, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func buildNode(id framer.NodeId, anchors AnchorMap, cache map[framer.NodeId]loracache.Record, now time.Time, cfg Config) Node {
	node := Node{Id: id.String()}

	anchor, isAnchor := anchors[id]
	rec, hasRecord := cache[id]
	fresh := hasRecord && hasCoordinates(rec) && now.Sub(rec.CaptureTimestamp) <= cfg.GpsTtl
	if fresh && cfg.Validator != nil {
		if result := cfg.Validator.ValidateGpsCoordinates(*rec.Location.Latitude, *rec.Location.Longitude); !result.Valid {
			fresh = false
		}
	}

	switch {
	case isAnchor:
		node.PositionKnown = true
		node.LatLonAlt = [3]float64{anchor.Lat, anchor.Lon, anchor.Alt}
		node.PositionSource = "anchor_config"
		// lastPositionUpdateTime is left at zero here: the anchor's
		// position never changes after config load, so the materialiser
		// does not claim a fresh update time for it (DESIGN.md Open
		// Question 2). Callers that need "time since anchor loaded" track
		// it outside this pure function.
		if fresh {
			node.PositionSource = "anchor_config,lora_" + locationSourceTag(rec)
		}
	case fresh:
		node.PositionKnown = true
		node.LatLonAlt = [3]float64{*rec.Location.Latitude, *rec.Location.Longitude, deref(rec.Location.Altitude)}
		node.PositionAccuracy = deref(rec.Location.Accuracy)
		node.PositionSource = locationSourceTag(rec)
		node.LastPositionUpdateTime = float64(rec.CaptureTimestamp.Unix())
	default:
		node.PositionKnown = false
	}

	if hasRecord {
		applyTelemetry(&node, rec, isAnchor && fresh, cfg)
	}

	return node
}

func applyTelemetry(node *Node, rec loracache.Record, isAnchorWithLora bool, cfg Config) {
	node.Battery = validatedBattery(rec.DecodedPayload.Battery, cfg.Validator)
	node.Temperature = validatedTemperature(rec.DecodedPayload.Temperature, cfg.Validator)
	node.Humidity = rec.DecodedPayload.Humidity
	node.FCnt = rec.Metadata.FCnt
	node.FPort = rec.Metadata.FPort
	node.LoraDeviceId = rec.Metadata.DeviceId
	node.LoraReceivedAt = rec.ReceivedAt
	node.LoraDataTimestamp = float64(rec.CaptureTimestamp.Unix())
	if isAnchorWithLora {
		node.LastTelemetryUpdateTime = float64(rec.CaptureTimestamp.Unix())
	}

	if rec.DecodedPayload.Triage != nil {
		node.TriageStatus = int(*rec.DecodedPayload.Triage)
	}

	if n := len(rec.GatewayObservations); n > 0 {
		node.GatewayCount = n
		var maxRssi, maxSnr *float64
		for _, gw := range rec.GatewayObservations {
			if gw.Rssi != nil {
				v := *gw.Rssi
				if maxRssi != nil {
					v = util.Max(v, *maxRssi)
				}
				maxRssi = &v
			}
			if gw.Snr != nil {
				v := *gw.Snr
				if maxSnr != nil {
					v = util.Max(v, *maxSnr)
				}
				maxSnr = &v
			}
		}
		node.Rssi = maxRssi
		node.Snr = maxSnr
	}

	// Device-GPS diagnostic fields are a last-resort location aid: shown
	// only when no LoRa/user location won the position resolution for
	// this node, unless the operator asked for them unconditionally.
	if cfg.AlwaysEmitDeviceGps || !node.PositionKnown || node.PositionSource == "anchor_config" {
		node.FixType = rec.DecodedPayload.FixType
		node.Satellites = rec.DecodedPayload.Satellites
	}
}

// validatedBattery gates a decoded battery reading through the validator,
// the same "out-of-range reading is dropped, not the whole record" policy
// applied to GPS coordinates above.
func validatedBattery(v *float64, validator *validate.Validator) *float64 {
	if v == nil || validator == nil {
		return v
	}
	if result := validator.ValidateBatteryLevel(*v); !result.Valid {
		return nil
	}
	return v
}

func validatedTemperature(v *float64, validator *validate.Validator) *float64 {
	if v == nil || validator == nil {
		return v
	}
	if result := validator.ValidateTemperature(*v); !result.Valid {
		return nil
	}
	return v
}

func hasCoordinates(rec loracache.Record) bool {
	return rec.Location.Latitude != nil && rec.Location.Longitude != nil
}

func locationSourceTag(rec loracache.Record) string {
	if rec.Location.Source != "" {
		return rec.Location.Source
	}
	return "unknown"
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func roundMillimetres(metres float64) float64 {
	const scale = 1000.0
	return float64(int64(metres*scale+0.5)) / scale
}
