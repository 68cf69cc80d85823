// Package metrics exposes the bridge's health counters as Prometheus
// metrics for the diagnostics HTTP server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
)

// Registry mirrors the fields of resilience.Health.Snapshot as Prometheus
// gauges, refreshed by Observe on each health tick.
type Registry struct {
	registry *prometheus.Registry

	packetsSuccessful prometheus.Gauge
	packetsFailed     prometheus.Gauge
	parsingErrors     prometheus.Gauge
	connectionErrors  prometheus.Gauge
	consecutiveErrors prometheus.Gauge
	deviceResets      prometheus.Gauge
	mqttPublishes     prometheus.Gauge
	mqttFailures      prometheus.Gauge
	cacheDevEuiCount  prometheus.Gauge
	cacheNodeIdCount  prometheus.Gauge
	statusHealthy     prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		packetsSuccessful: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_packets_successful_total",
			Help: "UWB distance packets successfully parsed.",
		}),
		packetsFailed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_packets_failed_total",
			Help: "UWB packets dropped due to a parse error.",
		}),
		parsingErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_parsing_errors_total",
			Help: "Cumulative parsing error count.",
		}),
		connectionErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_connection_errors_total",
			Help: "Cumulative connection error count.",
		}),
		consecutiveErrors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_consecutive_errors",
			Help: "Errors seen since the last successful packet.",
		}),
		deviceResets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_device_resets_total",
			Help: "Device resets issued via the DTR line.",
		}),
		mqttPublishes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_mqtt_publishes_total",
			Help: "Successful outbound MQTT publishes.",
		}),
		mqttFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_mqtt_failures_total",
			Help: "Failed outbound MQTT publishes.",
		}),
		cacheDevEuiCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_lora_cache_dev_eui_count",
			Help: "Entries currently held in the DevEui-indexed cache view.",
		}),
		cacheNodeIdCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_lora_cache_node_id_count",
			Help: "Entries currently held in the NodeId-indexed cache view.",
		}),
		statusHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uwb_bridge_status_healthy",
			Help: "1 if the last health snapshot was healthy, 0 otherwise.",
		}),
	}
}

// Gatherer exposes the underlying prometheus.Gatherer for promhttp.
func (r *Registry) Gatherer() *prometheus.Registry {
	return r.registry
}

// Observe updates every gauge from the latest health document.
func (r *Registry) Observe(doc resilience.Document) {
	r.packetsSuccessful.Set(float64(doc.Metrics.Packets.Successful))
	r.packetsFailed.Set(float64(doc.Metrics.Packets.Failed))
	r.parsingErrors.Set(float64(doc.Metrics.Errors.Parsing))
	r.connectionErrors.Set(float64(doc.Metrics.Errors.Connection))
	r.consecutiveErrors.Set(float64(doc.Metrics.Errors.Consecutive))
	r.deviceResets.Set(float64(doc.Metrics.Device.Resets))
	r.mqttPublishes.Set(float64(doc.Metrics.Mqtt.Publishes))
	r.mqttFailures.Set(float64(doc.Metrics.Mqtt.Failures))

	healthy := 0.0
	if doc.Status == resilience.StatusHealthy {
		healthy = 1.0
	}
	r.statusHealthy.Set(healthy)
}

// ObserveCache records the current cache occupancy.
func (r *Registry) ObserveCache(devEuiCount, nodeIdCount int) {
	r.cacheDevEuiCount.Set(float64(devEuiCount))
	r.cacheNodeIdCount.Set(float64(nodeIdCount))
}
