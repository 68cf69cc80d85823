package loracache

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
)

// ErrNoDevEui is returned when a TTN uplink message carries no device EUI.
// Per the ingestion contract this is the only extraction failure that
// discards the whole message; every other field degrades independently.
var ErrNoDevEui = errors.New("uplink message has no end_device_ids.dev_eui")

type ttnGatewayIds struct {
	GatewayId string `json:"gateway_id"`
	Eui       string `json:"eui"`
}

type ttnRxMetadata struct {
	GatewayIds ttnGatewayIds `json:"gateway_ids"`
	Rssi       *float64      `json:"rssi"`
	Snr        *float64      `json:"snr"`
	Timestamp  string        `json:"timestamp"`
}

type ttnLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	Accuracy  *float64 `json:"accuracy"`
	Source    string   `json:"source"`
}

type ttnUplinkMessage struct {
	FPort          *int                       `json:"f_port"`
	FCnt           *int                       `json:"f_cnt"`
	DecodedPayload map[string]json.RawMessage `json:"decoded_payload"`
	RxMetadata     []ttnRxMetadata            `json:"rx_metadata"`
	LocationsRaw   json.RawMessage            `json:"locations"`
}

type ttnEndDeviceIds struct {
	DeviceId       string `json:"device_id"`
	DevEui         string `json:"dev_eui"`
	ApplicationIds struct {
		ApplicationId string `json:"application_id"`
	} `json:"application_ids"`
}

type ttnUplink struct {
	EndDeviceIds  ttnEndDeviceIds  `json:"end_device_ids"`
	ReceivedAt    string           `json:"received_at"`
	UplinkMessage ttnUplinkMessage `json:"uplink_message"`
}

// locationPriority is tried in order before falling back to the first key
// encountered in the raw JSON object (see Open Question 3 in DESIGN.md).
var locationPriority = []string{"frm-payload", "user", "gps"}

// DecodeUplink parses one TTN v3 uplink JSON message into a Record. Every
// field but DevEui degrades to its zero value on a missing/malformed
// sub-object rather than failing the whole message.
func DecodeUplink(raw []byte, now time.Time) (*Record, error) {
	var msg ttnUplink
	if err := json.Unmarshal(raw, &msg); err != nil {
		// A wrong-typed field is left at its zero value and decoding
		// carries on with the rest of the document. Without a parseable
		// document there is nothing reliable to extract, so syntax errors
		// are the one case treated as a hard failure.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, err
		}
	}

	devEuiHex := strings.ToUpper(strings.TrimSpace(msg.EndDeviceIds.DevEui))
	if devEuiHex == "" {
		return nil, ErrNoDevEui
	}
	devEui, err := parseDevEuiHex(devEuiHex)
	if err != nil {
		return nil, ErrNoDevEui
	}

	rec := &Record{
		DevEui:           devEui,
		CaptureTimestamp: now,
		ReceivedAt:       msg.ReceivedAt,
		DecodedPayload:   decodePayloadFields(msg.UplinkMessage.DecodedPayload),
		Location:         resolveLocation(msg.UplinkMessage.LocationsRaw),
		Metadata: Metadata{
			FCnt:     msg.UplinkMessage.FCnt,
			FPort:    msg.UplinkMessage.FPort,
			DeviceId: msg.EndDeviceIds.DeviceId,
		},
	}

	for _, rx := range msg.UplinkMessage.RxMetadata {
		gw := rx.GatewayIds.GatewayId
		if gw == "" {
			gw = rx.GatewayIds.Eui
		}
		rec.GatewayObservations = append(rec.GatewayObservations, GatewayObservation{
			GatewayId: gw,
			Rssi:      rx.Rssi,
			Snr:       rx.Snr,
			Timestamp: rx.Timestamp,
		})
	}

	return rec, nil
}

func decodePayloadFields(raw map[string]json.RawMessage) DecodedPayload {
	var p DecodedPayload
	if v, ok := raw["battery"]; ok {
		p.Battery = decodeFloatPtr(v)
	}
	if v, ok := raw["temperature"]; ok {
		p.Temperature = decodeFloatPtr(v)
	}
	if v, ok := raw["humidity"]; ok {
		p.Humidity = decodeFloatPtr(v)
	}
	if v, ok := raw["triage"]; ok {
		p.Triage = decodeFloatPtr(v)
	} else if v, ok := raw["triageStatus"]; ok {
		p.Triage = decodeFloatPtr(v)
	}
	if v, ok := raw["fixType"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			p.FixType = &s
		}
	}
	if v, ok := raw["satellites"]; ok {
		var n int
		if json.Unmarshal(v, &n) == nil {
			p.Satellites = &n
		}
	}
	return p
}

func decodeFloatPtr(raw json.RawMessage) *float64 {
	var f float64
	if json.Unmarshal(raw, &f) != nil {
		return nil
	}
	return &f
}

// resolveLocation picks a location entry per the documented priority order,
// falling back to the first key in the object's original byte order when
// none of the priority keys are present.
func resolveLocation(raw json.RawMessage) Location {
	if len(raw) == 0 {
		return Location{}
	}

	var byKey map[string]ttnLocation
	if err := json.Unmarshal(raw, &byKey); err != nil || len(byKey) == 0 {
		return Location{}
	}

	for _, key := range locationPriority {
		if loc, ok := byKey[key]; ok {
			return toLocation(loc, key)
		}
	}

	key, ok := firstObjectKey(raw)
	if !ok {
		return Location{}
	}
	if loc, ok := byKey[key]; ok {
		return toLocation(loc, key)
	}
	return Location{}
}

func toLocation(loc ttnLocation, key string) Location {
	source := loc.Source
	if source == "" {
		source = key
	}
	return Location{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Altitude:  loc.Altitude,
		Accuracy:  loc.Accuracy,
		Source:    source,
	}
}

// firstObjectKey returns the first key of a JSON object in the order it
// appears in the original bytes, since map[string]T iteration order is
// undefined and the spec's 4th+ fallback priority is "the order keys
// appear in the stream".
func firstObjectKey(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return "", false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", false
	}
	tok, err = dec.Token()
	if err != nil {
		return "", false
	}
	key, ok := tok.(string)
	return key, ok
}

func parseDevEuiHex(hex string) (framer.DevEui, error) {
	n, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, err
	}
	return framer.DevEui(n), nil
}

func parseNodeIdHex(hex string) (framer.NodeId, error) {
	n, err := strconv.ParseUint(hex, 16, 16)
	if err != nil {
		return 0, err
	}
	return framer.NodeId(n), nil
}
