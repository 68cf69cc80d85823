// Package loracache maintains a dual-indexed, TTL-bounded view of the most
// recent LoRa/TTN uplink seen for each device, correlating it with the UWB
// identity space via a static DevEui-to-NodeId mapping.
package loracache

import (
	"time"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
)

// DecodedPayload carries the application-layer fields TTN's payload
// formatter extracted, when present.
type DecodedPayload struct {
	Battery     *float64 `json:"battery,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Triage      *float64 `json:"triage,omitempty"`
	FixType     *string  `json:"fixType,omitempty"`
	Satellites  *int     `json:"satellites,omitempty"`
}

// Location is the resolved best-effort location for an uplink, tagged with
// which TTN `locations` key it was read from.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Source    string   `json:"source,omitempty"`
}

func (l *Location) hasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// GatewayObservation is one gateway's view of an uplink.
type GatewayObservation struct {
	GatewayId string   `json:"gatewayId"`
	Rssi      *float64 `json:"rssi,omitempty"`
	Snr       *float64 `json:"snr,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Metadata carries frame-counter and device-identity passthrough fields.
type Metadata struct {
	FCnt     *int   `json:"fCnt,omitempty"`
	FPort    *int   `json:"fPort,omitempty"`
	DeviceId string `json:"deviceId,omitempty"`
}

// Record is one device's most recent uplink, as stored in the cache.
type Record struct {
	DevEui              framer.DevEui
	CaptureTimestamp    time.Time // wall clock at ingest
	ReceivedAt          string    // TTN's own received_at string, verbatim
	DecodedPayload      DecodedPayload
	Location            Location
	Metadata            Metadata
	GatewayObservations []GatewayObservation
}

func (r *Record) hasGps() bool {
	return r != nil && r.Location.hasCoordinates()
}

// expired reports whether r has aged out under the given TTLs at time now.
func (r *Record) expired(now time.Time, gpsTtl, sensorTtl time.Duration, checkGpsStaleness bool) bool {
	age := now.Sub(r.CaptureTimestamp)
	if checkGpsStaleness && r.hasGps() && age > gpsTtl {
		return true
	}
	return age > sensorTtl
}
