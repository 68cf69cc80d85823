package resilience

import (
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthConfig holds the tunables used by the status classification rules.
type HealthConfig struct {
	ReportInterval       time.Duration
	MqttConnectTimeout   time.Duration
	MqttStartupGrace     time.Duration
	UwbDataTimeout       time.Duration
	ConsecutiveErrorsMax int
	ParsingErrorsMax     int
	MinSuccessRatio      float64
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		ReportInterval:       60 * time.Second,
		MqttConnectTimeout:   60 * time.Second,
		MqttStartupGrace:     30 * time.Second,
		UwbDataTimeout:       300 * time.Second,
		ConsecutiveErrorsMax: 5,
		ParsingErrorsMax:     10,
		MinSuccessRatio:      0.8,
	}
}

// Health accumulates the counters behind the published health document and
// derives its status. All fields are guarded by a single mutex; readers
// get a point-in-time snapshot rather than a live reference.
type Health struct {
	mu    sync.Mutex
	cfg   HealthConfig
	start time.Time

	successfulPackets int64
	failedPackets     int64
	parsingErrors     int64
	connectionErrors  int64
	consecutiveErrors int64
	deviceResets      int64
	lastResetTime     time.Time
	lastErrorTime     time.Time
	lastUwbDataTime   time.Time
	mqttPublishes     int64
	mqttFailures      int64

	serialConnected    bool
	mqttConnected      bool
	loraCacheConnected bool
	mqttSince          time.Time // time of the most recent connect/disconnect transition
}

func NewHealth(cfg HealthConfig, now time.Time) *Health {
	return &Health{cfg: cfg, start: now, mqttSince: now}
}

func (h *Health) RecordSuccessfulPacket(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successfulPackets++
	h.consecutiveErrors = 0
	h.lastUwbDataTime = now
}

func (h *Health) RecordParsingError(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parsingErrors++
	h.failedPackets++
	h.consecutiveErrors++
	h.lastErrorTime = now
}

func (h *Health) RecordConnectionError(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionErrors++
	h.consecutiveErrors++
	h.lastErrorTime = now
}

func (h *Health) RecordDeviceReset(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deviceResets++
	h.lastResetTime = now
	h.consecutiveErrors = 0
}

func (h *Health) RecordMqttPublish(success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if success {
		h.mqttPublishes++
	} else {
		h.mqttFailures++
	}
}

// UpdateConnectionStatus records a transition. serialConnected is always
// written; mqtt/loraCache are pointers, and a nil pointer leaves that
// field unchanged.
func (h *Health) UpdateConnectionStatus(now time.Time, serialConnected bool, mqttConnected, loraCacheConnected *bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serialConnected = serialConnected
	if mqttConnected != nil && *mqttConnected != h.mqttConnected {
		h.mqttConnected = *mqttConnected
		h.mqttSince = now
	}
	if loraCacheConnected != nil {
		h.loraCacheConnected = *loraCacheConnected
	}
}

// Document is the serialisable health document published to the health
// topic and written to the local health file.
type Document struct {
	Status        Status      `json:"status"`
	Timestamp     string      `json:"timestamp"`
	UptimeSeconds float64     `json:"uptimeSeconds"`
	Connections   Connections `json:"connections"`
	Metrics       Metrics     `json:"metrics"`
}

type Connections struct {
	Serial    bool `json:"serial"`
	Mqtt      bool `json:"mqtt"`
	LoraCache bool `json:"loraCache"`
}

type Metrics struct {
	Packets PacketMetrics `json:"packets"`
	Errors  ErrorMetrics  `json:"errors"`
	Device  DeviceMetrics `json:"device"`
	Mqtt    MqttMetrics   `json:"mqtt"`
}

type PacketMetrics struct {
	Successful  int64   `json:"successful"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

type ErrorMetrics struct {
	Parsing     int64 `json:"parsing"`
	Connection  int64 `json:"connection"`
	Consecutive int64 `json:"consecutive"`
}

type DeviceMetrics struct {
	Resets     int64   `json:"resets"`
	LastResetT *string `json:"lastReset"`
}

type MqttMetrics struct {
	Publishes   int64   `json:"publishes"`
	Failures    int64   `json:"failures"`
	SuccessRate float64 `json:"successRate"`
}

func ratio(ok, fail int64) float64 {
	total := ok + fail
	if total == 0 {
		return 1.0
	}
	return float64(ok) / float64(total)
}

// Snapshot computes the current status and document at time now.
func (h *Health) Snapshot(now time.Time) Document {
	h.mu.Lock()
	defer h.mu.Unlock()

	successRatio := ratio(h.successfulPackets, h.failedPackets)
	mqttRatio := ratio(h.mqttPublishes, h.mqttFailures)

	status := StatusHealthy

	mqttDisconnectedTooLong := !h.mqttConnected &&
		now.Sub(h.start) > h.cfg.MqttStartupGrace &&
		now.Sub(h.mqttSince) > h.cfg.MqttConnectTimeout

	// Before the first UWB packet the timeout runs from process start.
	lastUwbData := h.lastUwbDataTime
	if lastUwbData.IsZero() {
		lastUwbData = h.start
	}
	noUwbData := now.Sub(lastUwbData) > h.cfg.UwbDataTimeout

	switch {
	case mqttDisconnectedTooLong,
		noUwbData,
		h.consecutiveErrors >= int64(h.cfg.ConsecutiveErrorsMax),
		h.parsingErrors >= int64(h.cfg.ParsingErrorsMax),
		h.parsingErrors > 0 && successRatio < h.cfg.MinSuccessRatio:
		status = StatusUnhealthy
	case !h.serialConnected, successRatio < h.cfg.MinSuccessRatio:
		status = StatusDegraded
	}

	var lastReset *string
	if !h.lastResetTime.IsZero() {
		s := h.lastResetTime.UTC().Format(time.RFC3339)
		lastReset = &s
	}

	return Document{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		UptimeSeconds: now.Sub(h.start).Seconds(),
		Connections: Connections{
			Serial:    h.serialConnected,
			Mqtt:      h.mqttConnected,
			LoraCache: h.loraCacheConnected,
		},
		Metrics: Metrics{
			Packets: PacketMetrics{
				Successful:  h.successfulPackets,
				Failed:      h.failedPackets,
				SuccessRate: round3(successRatio),
			},
			Errors: ErrorMetrics{
				Parsing:     h.parsingErrors,
				Connection:  h.connectionErrors,
				Consecutive: h.consecutiveErrors,
			},
			Device: DeviceMetrics{
				Resets:     h.deviceResets,
				LastResetT: lastReset,
			},
			Mqtt: MqttMetrics{
				Publishes:   h.mqttPublishes,
				Failures:    h.mqttFailures,
				SuccessRate: round3(mqttRatio),
			},
		},
	}
}

func round3(v float64) float64 {
	const scale = 1000.0
	return float64(int64(v*scale+0.5)) / scale
}
