// Package config loads the bridge's JSON configuration file, the anchor
// map, the dev-EUI mapping, and .env-sourced credentials into a single
// Config struct, validating each JSON document against its embedded schema
// before decoding it.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
	"github.com/dynamicdevices/uwb-bridge/internal/loracache"
	"github.com/dynamicdevices/uwb-bridge/internal/network"
	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
	"github.com/dynamicdevices/uwb-bridge/internal/validate"
	"github.com/dynamicdevices/uwb-bridge/pkg/log"
	"github.com/dynamicdevices/uwb-bridge/pkg/schema"
)

type SerialConfig struct {
	Port     string `json:"port"`
	Disabled bool   `json:"disabled"`
}

type LoraConfig struct {
	Broker                 string  `json:"broker"`
	Port                   int     `json:"port"`
	TopicPattern           string  `json:"topicPattern"`
	DevEuiMapPath          string  `json:"devEuiMapPath"`
	GpsTtlSeconds          float64 `json:"gpsTtlSeconds"`
	SensorTtlSeconds       float64 `json:"sensorTtlSeconds"`
	CleanupIntervalSeconds float64 `json:"cleanupIntervalSeconds"`

	// Username/Password are never read from the JSON config file; they are
	// seeded from the environment only, see Load.
	Username string `json:"-"`
	Password string `json:"-"`
}

type PublishConfig struct {
	Broker                  string  `json:"broker"`
	Port                    int     `json:"port"`
	Topic                   string  `json:"topic"`
	RateLimitSeconds        float64 `json:"rateLimitSeconds"`
	ValidationFailuresTopic string  `json:"validationFailuresTopic"`

	Username string `json:"-"`
	Password string `json:"-"`
}

type ValidationConfig struct {
	MinDistanceMeters     *float64 `json:"minDistanceMeters"`
	MaxDistanceMeters     *float64 `json:"maxDistanceMeters"`
	MinLatitude           *float64 `json:"minLatitude"`
	MaxLatitude           *float64 `json:"maxLatitude"`
	MinLongitude          *float64 `json:"minLongitude"`
	MaxLongitude          *float64 `json:"maxLongitude"`
	MinBatteryPercent     *float64 `json:"minBatteryPercent"`
	MaxBatteryPercent     *float64 `json:"maxBatteryPercent"`
	MinTemperatureCelsius *float64 `json:"minTemperatureCelsius"`
	MaxTemperatureCelsius *float64 `json:"maxTemperatureCelsius"`
	RejectZeroGps         *bool    `json:"rejectZeroGps"`
}

type BackoffConfig struct {
	InitialSeconds float64 `json:"initialSeconds"`
	MaxSeconds     float64 `json:"maxSeconds"`
	Multiplier     float64 `json:"multiplier"`
}

type HealthConfig struct {
	ReportIntervalSeconds     float64 `json:"reportIntervalSeconds"`
	MqttConnectTimeoutSeconds float64 `json:"mqttConnectTimeoutSeconds"`
	MqttStartupGraceSeconds   float64 `json:"mqttStartupGraceSeconds"`
	UwbDataTimeoutSeconds     float64 `json:"uwbDataTimeoutSeconds"`
	ConsecutiveErrorsMax      int     `json:"consecutiveErrorsMax"`
	ParsingErrorsMax          int     `json:"parsingErrorsMax"`
	MinSuccessRatio           float64 `json:"minSuccessRatio"`
}

// Config is the fully resolved, decoded configuration surface: JSON config
// file defaults, overridden by environment-sourced credentials, overridden
// by CLI flags (layering order matches the teacher's defaults -> config
// file -> flags precedence).
type Config struct {
	Serial              SerialConfig     `json:"serial"`
	Lora                LoraConfig       `json:"lora"`
	Publish             PublishConfig    `json:"publish"`
	AnchorConfigPath    string           `json:"anchorConfigPath"`
	Validation          ValidationConfig `json:"validation"`
	Backoff             BackoffConfig    `json:"backoff"`
	Health              HealthConfig     `json:"health"`
	DiagnosticsAddr     string           `json:"diagnosticsAddr"`
	AlwaysEmitDeviceGps bool             `json:"alwaysEmitDeviceGps"`
	Verbose             bool             `json:"verbose"`
	Quiet               bool             `json:"quiet"`
}

func Defaults() Config {
	return Config{
		Serial: SerialConfig{Port: "/dev/ttyUSB0"},
		Lora: LoraConfig{
			Port:         8883,
			TopicPattern: "#",
		},
		Publish: PublishConfig{
			Port:  8883,
			Topic: "uwb/network",
		},
		DiagnosticsAddr: ":9100",
	}
}

// Load reads and validates the JSON config file at path, then overlays
// MQTT credentials from the environment (after loading .env if present).
// A missing config file is not an error: the zero value plus Defaults()
// is used, mirroring the teacher's Init behaviour for a missing file.
func Load(path, envPath string) (Config, error) {
	cfg := Defaults()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config.Load: reading .env: %w", err)
		}
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config.Load: reading %s: %w", path, err)
			}
		} else {
			if err := schema.Validate(schema.Config, bytes.NewReader(raw)); err != nil {
				return cfg, fmt.Errorf("config.Load: validating %s: %w", path, err)
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&cfg); err != nil {
				return cfg, fmt.Errorf("config.Load: decoding %s: %w", path, err)
			}
		}
	}

	cfg.Lora.Username = os.Getenv("UWB_BRIDGE_LORA_MQTT_USERNAME")
	cfg.Lora.Password = os.Getenv("UWB_BRIDGE_LORA_MQTT_PASSWORD")
	cfg.Publish.Username = os.Getenv("UWB_BRIDGE_PUBLISH_MQTT_USERNAME")
	cfg.Publish.Password = os.Getenv("UWB_BRIDGE_PUBLISH_MQTT_PASSWORD")

	return cfg, nil
}

// LoadAnchorMap reads and validates the anchor-config file at path.
func LoadAnchorMap(path string) (network.AnchorMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadAnchorMap: reading %s: %w", path, err)
	}
	if err := schema.Validate(schema.AnchorMap, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("config.LoadAnchorMap: validating %s: %w", path, err)
	}

	var doc struct {
		Anchors []struct {
			Id  string  `json:"id"`
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
			Alt float64 `json:"alt"`
		} `json:"anchors"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config.LoadAnchorMap: decoding %s: %w", path, err)
	}

	out := make(network.AnchorMap, len(doc.Anchors))
	for _, a := range doc.Anchors {
		id, err := strconv.ParseUint(a.Id, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("config.LoadAnchorMap: anchor id %q: %w", a.Id, err)
		}
		out[framer.NodeId(id)] = network.Anchor{Lat: a.Lat, Lon: a.Lon, Alt: a.Alt}
	}
	return out, nil
}

// LoadDevEuiMap reads and validates the dev-EUI mapping file at path.
func LoadDevEuiMap(path string) (loracache.DevEuiToNodeId, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadDevEuiMap: reading %s: %w", path, err)
	}
	if err := schema.Validate(schema.DevEuiMap, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("config.LoadDevEuiMap: validating %s: %w", path, err)
	}

	var doc struct {
		Mapping map[string]string `json:"dev_eui_to_uwb_id"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config.LoadDevEuiMap: decoding %s: %w", path, err)
	}

	mapping, err := loracache.ParseDevEuiToNodeIdMap(doc.Mapping)
	if err != nil {
		return nil, fmt.Errorf("config.LoadDevEuiMap: %w", err)
	}
	return mapping, nil
}

// ValidationBounds materialises validate.Bounds from the config overlay,
// falling back to validate.DefaultBounds() field-by-field.
func (c Config) ValidationBounds() validate.Bounds {
	b := validate.DefaultBounds()
	v := c.Validation
	if v.MinDistanceMeters != nil {
		b.MinDistanceMeters = *v.MinDistanceMeters
	}
	if v.MaxDistanceMeters != nil {
		b.MaxDistanceMeters = *v.MaxDistanceMeters
	}
	if v.MinLatitude != nil {
		b.MinLatitude = *v.MinLatitude
	}
	if v.MaxLatitude != nil {
		b.MaxLatitude = *v.MaxLatitude
	}
	if v.MinLongitude != nil {
		b.MinLongitude = *v.MinLongitude
	}
	if v.MaxLongitude != nil {
		b.MaxLongitude = *v.MaxLongitude
	}
	if v.MinBatteryPercent != nil {
		b.MinBatteryPercent = *v.MinBatteryPercent
	}
	if v.MaxBatteryPercent != nil {
		b.MaxBatteryPercent = *v.MaxBatteryPercent
	}
	if v.MinTemperatureCelsius != nil {
		b.MinTemperatureCelsius = *v.MinTemperatureCelsius
	}
	if v.MaxTemperatureCelsius != nil {
		b.MaxTemperatureCelsius = *v.MaxTemperatureCelsius
	}
	if v.RejectZeroGps != nil {
		b.RejectZeroGps = *v.RejectZeroGps
	}
	return b
}

func (c Config) BackoffConfig() resilience.BackoffConfig {
	d := resilience.DefaultBackoffConfig()
	if c.Backoff.InitialSeconds > 0 {
		d.Initial = secondsToDuration(c.Backoff.InitialSeconds)
	}
	if c.Backoff.MaxSeconds > 0 {
		d.Max = secondsToDuration(c.Backoff.MaxSeconds)
	}
	if c.Backoff.Multiplier > 0 {
		d.Multiplier = c.Backoff.Multiplier
	}
	return d
}

func (c Config) HealthConfig() resilience.HealthConfig {
	d := resilience.DefaultHealthConfig()
	h := c.Health
	if h.ReportIntervalSeconds > 0 {
		d.ReportInterval = secondsToDuration(h.ReportIntervalSeconds)
	}
	if h.MqttConnectTimeoutSeconds > 0 {
		d.MqttConnectTimeout = secondsToDuration(h.MqttConnectTimeoutSeconds)
	}
	if h.MqttStartupGraceSeconds > 0 {
		d.MqttStartupGrace = secondsToDuration(h.MqttStartupGraceSeconds)
	}
	if h.UwbDataTimeoutSeconds > 0 {
		d.UwbDataTimeout = secondsToDuration(h.UwbDataTimeoutSeconds)
	}
	if h.ConsecutiveErrorsMax > 0 {
		d.ConsecutiveErrorsMax = h.ConsecutiveErrorsMax
	}
	if h.ParsingErrorsMax > 0 {
		d.ParsingErrorsMax = h.ParsingErrorsMax
	}
	if h.MinSuccessRatio > 0 {
		d.MinSuccessRatio = h.MinSuccessRatio
	}
	return d
}

func (c Config) TTLConfig() loracache.TTLConfig {
	d := loracache.DefaultTTLConfig()
	if c.Lora.GpsTtlSeconds > 0 {
		d.GpsTtl = secondsToDuration(c.Lora.GpsTtlSeconds)
	}
	if c.Lora.SensorTtlSeconds > 0 {
		d.SensorTtl = secondsToDuration(c.Lora.SensorTtlSeconds)
	}
	if c.Lora.CleanupIntervalSeconds > 0 {
		d.CleanupInterval = secondsToDuration(c.Lora.CleanupIntervalSeconds)
	}
	return d
}

func (c Config) NetworkConfig(v *validate.Validator) network.Config {
	cfg := network.DefaultConfig()
	cfg.AlwaysEmitDeviceGps = c.AlwaysEmitDeviceGps
	cfg.Validator = v
	if c.Lora.GpsTtlSeconds > 0 {
		cfg.GpsTtl = secondsToDuration(c.Lora.GpsTtlSeconds)
	}
	return cfg
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ApplyLogLevel switches pkg/log's verbosity per the verbose/quiet flags.
// Quiet wins over verbose if both are set.
func (c Config) ApplyLogLevel() {
	switch {
	case c.Quiet:
		log.SetLogLevel("warn")
	case c.Verbose:
		log.SetLogLevel("debug")
	default:
		log.SetLogLevel("info")
	}
}
