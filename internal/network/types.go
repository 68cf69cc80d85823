// Package network materialises the published positioning graph from a
// parser edge list, a static anchor map, and a point-in-time LoRa cache
// snapshot.
package network

import "github.com/dynamicdevices/uwb-bridge/internal/framer"

// Anchor is a statically configured geographic position for a UWB node.
type Anchor struct {
	Lat float64
	Lon float64
	Alt float64
}

// AnchorMap is immutable for the lifetime of the process once loaded.
type AnchorMap map[framer.NodeId]Anchor

// EdgeRef is one incident edge as attached to a node's edge list.
type EdgeRef struct {
	End0     string  `json:"end0"`
	End1     string  `json:"end1"`
	Distance float64 `json:"distance"`
}

// Node is one published UWB identity with its resolved position and any
// telemetry correlated from the LoRa cache.
type Node struct {
	Id                     string     `json:"id"`
	TriageStatus           int        `json:"triageStatus"`
	Position               [3]float64 `json:"position"`
	LatLonAlt              [3]float64 `json:"latLonAlt"`
	PositionKnown          bool       `json:"positionKnown"`
	PositionSource         string     `json:"positionSource,omitempty"`
	LastPositionUpdateTime float64    `json:"lastPositionUpdateTime"`
	PositionAccuracy       float64    `json:"positionAccuracy"`
	Edges                  []EdgeRef  `json:"edges"`

	// Telemetry, copied from the cache when a record is present for this
	// node regardless of whether it won the position resolution.
	Battery                *float64 `json:"battery,omitempty"`
	Temperature            *float64 `json:"temperature,omitempty"`
	Humidity               *float64 `json:"humidity,omitempty"`
	Rssi                   *float64 `json:"rssi,omitempty"`
	Snr                    *float64 `json:"snr,omitempty"`
	GatewayCount           int      `json:"gatewayCount,omitempty"`
	FCnt                   *int     `json:"fCnt,omitempty"`
	FPort                  *int     `json:"fPort,omitempty"`
	LoraDataTimestamp      float64  `json:"loraDataTimestamp,omitempty"`
	LoraReceivedAt         string   `json:"loraReceivedAt,omitempty"`
	LoraDeviceId           string   `json:"loraDeviceId,omitempty"`
	LastTelemetryUpdateTime float64 `json:"lastTelemetryUpdateTime,omitempty"`

	// Device-GPS diagnostic fields: emitted only when no LoRa/user
	// location was used for positioning, unless AlwaysEmitDeviceGps is
	// set (see DESIGN.md Open Question 1).
	FixType    *string `json:"fixType,omitempty"`
	Satellites *int    `json:"satellites,omitempty"`
}

// Network is the document published on the main outbound topic.
type Network struct {
	Uwbs []Node `json:"uwbs"`
}
