package schema

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigAcceptsMinimalDocument(t *testing.T) {
	doc := []byte(`{
		"serial": { "port": "/dev/ttyUSB0" },
		"lora": { "broker": "eu1.cloud.thethings.network", "port": 8883 },
		"publish": { "broker": "mqtt.example.com", "port": 8883, "topic": "uwb/network" }
	}`)

	assert.NoError(t, Validate(Config, bytes.NewReader(doc)))
}

func TestValidateConfigRejectsMissingRequiredSection(t *testing.T) {
	doc := []byte(`{ "serial": { "port": "/dev/ttyUSB0" } }`)

	assert.Error(t, Validate(Config, bytes.NewReader(doc)))
}

func TestValidateAnchorMapAcceptsWellFormedDocument(t *testing.T) {
	doc := []byte(`{ "anchors": [ { "id": "B4D3", "lat": 51.52, "lon": -0.75, "alt": 0 } ] }`)

	assert.NoError(t, Validate(AnchorMap, bytes.NewReader(doc)))
}

func TestValidateAnchorMapRejectsBadId(t *testing.T) {
	doc := []byte(`{ "anchors": [ { "id": "not-hex", "lat": 51.52, "lon": -0.75 } ] }`)

	assert.Error(t, Validate(AnchorMap, bytes.NewReader(doc)))
}

func TestValidateDevEuiMapAcceptsWellFormedDocument(t *testing.T) {
	doc := []byte(`{ "dev_eui_to_uwb_id": { "F4CE366381C3C7BD": "B98A" } }`)

	assert.NoError(t, Validate(DevEuiMap, bytes.NewReader(doc)))
}

func TestValidateDevEuiMapRejectsBadKey(t *testing.T) {
	doc := []byte(`{ "dev_eui_to_uwb_id": { "not-hex": "B98A" } }`)

	assert.Error(t, Validate(DevEuiMap, bytes.NewReader(doc)))
}

func TestValidateUnknownKindErrors(t *testing.T) {
	assert.Error(t, Validate(Kind(99), bytes.NewReader([]byte(`{}`))))
}
