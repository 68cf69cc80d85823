// Package validate applies range-check gating to distance edges and LoRa
// telemetry before they reach the published network document.
package validate

import (
	"fmt"
	"sync"
	"time"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
)

// Bounds holds the configurable acceptance ranges. Zero value is not
// meaningful; use DefaultBounds.
type Bounds struct {
	MinDistanceMeters     float64
	MaxDistanceMeters     float64
	MinLatitude           float64
	MaxLatitude           float64
	MinLongitude          float64
	MaxLongitude          float64
	MinBatteryPercent     float64
	MaxBatteryPercent     float64
	MinTemperatureCelsius float64
	MaxTemperatureCelsius float64
	RejectZeroGps         bool
}

func DefaultBounds() Bounds {
	return Bounds{
		MinDistanceMeters:     0.0,
		MaxDistanceMeters:     framer.MaxDistanceM,
		MinLatitude:           -90.0,
		MaxLatitude:           90.0,
		MinLongitude:          -180.0,
		MaxLongitude:          180.0,
		MinBatteryPercent:     0.0,
		MaxBatteryPercent:     100.0,
		MinTemperatureCelsius: -40.0,
		MaxTemperatureCelsius: 85.0,
		RejectZeroGps:         true,
	}
}

// Result is the outcome of a single-value check.
type Result struct {
	Valid  bool
	Reason string
}

func ok() Result { return Result{Valid: true} }

func reject(format string, args ...any) Result {
	return Result{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// Failure is one rejected datum, in the shape published to the
// validation-failures topic.
type Failure struct {
	Type      string      `json:"type"`
	Edge      framer.Edge `json:"edge,omitempty"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// Stats accumulates running rejection counters for diagnostics.
type Stats struct {
	TotalValidated      int64
	DistanceRejected    int64
	GpsRejected         int64
	BatteryRejected     int64
	TemperatureRejected int64
}

func (s Stats) TotalRejected() int64 {
	return s.DistanceRejected + s.GpsRejected + s.BatteryRejected + s.TemperatureRejected
}

func (s Stats) RejectionRate() float64 {
	if s.TotalValidated == 0 {
		return 0
	}
	return float64(s.TotalRejected()) / float64(s.TotalValidated)
}

// Validator is safe for concurrent use; its only mutable state is the
// running statistics counter.
type Validator struct {
	bounds Bounds
	mu     sync.Mutex
	stats  Stats
}

func New(bounds Bounds) *Validator {
	return &Validator{bounds: bounds}
}

func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *Validator) ValidateDistance(distanceMeters float64) Result {
	v.mu.Lock()
	v.stats.TotalValidated++
	v.mu.Unlock()

	b := v.bounds
	if distanceMeters < b.MinDistanceMeters {
		v.count(&v.stats.DistanceRejected)
		return reject("distance %.3fm below minimum %.3fm", distanceMeters, b.MinDistanceMeters)
	}
	if distanceMeters > b.MaxDistanceMeters {
		v.count(&v.stats.DistanceRejected)
		return reject("distance %.3fm exceeds maximum %.3fm", distanceMeters, b.MaxDistanceMeters)
	}
	return ok()
}

func (v *Validator) ValidateGpsCoordinates(lat, lon float64) Result {
	b := v.bounds
	if b.RejectZeroGps && lat == 0.0 && lon == 0.0 {
		v.count(&v.stats.GpsRejected)
		return reject("gps coordinates are 0,0 (invalid)")
	}
	if lat < b.MinLatitude || lat > b.MaxLatitude {
		v.count(&v.stats.GpsRejected)
		return reject("latitude %.6f outside valid range [%.1f, %.1f]", lat, b.MinLatitude, b.MaxLatitude)
	}
	if lon < b.MinLongitude || lon > b.MaxLongitude {
		v.count(&v.stats.GpsRejected)
		return reject("longitude %.6f outside valid range [%.1f, %.1f]", lon, b.MinLongitude, b.MaxLongitude)
	}
	return ok()
}

func (v *Validator) ValidateBatteryLevel(batteryPercent float64) Result {
	b := v.bounds
	if batteryPercent < b.MinBatteryPercent || batteryPercent > b.MaxBatteryPercent {
		v.count(&v.stats.BatteryRejected)
		return reject("battery level %.1f%% outside valid range [%.1f, %.1f]", batteryPercent, b.MinBatteryPercent, b.MaxBatteryPercent)
	}
	return ok()
}

func (v *Validator) ValidateTemperature(tempCelsius float64) Result {
	b := v.bounds
	if tempCelsius < b.MinTemperatureCelsius || tempCelsius > b.MaxTemperatureCelsius {
		v.count(&v.stats.TemperatureRejected)
		return reject("temperature %.1f°C outside valid range [%.1f, %.1f]", tempCelsius, b.MinTemperatureCelsius, b.MaxTemperatureCelsius)
	}
	return ok()
}

func (v *Validator) count(counter *int64) {
	v.mu.Lock()
	*counter++
	v.mu.Unlock()
}

// ValidateEdgeList splits edges into those accepted and a failure document
// per rejected edge, suitable for publishing to the validation-failures
// topic. now stamps every Failure's Timestamp.
func (v *Validator) ValidateEdgeList(edges []framer.Edge, now time.Time) (valid []framer.Edge, failures []Failure) {
	valid = make([]framer.Edge, 0, len(edges))
	for _, e := range edges {
		result := v.ValidateDistance(float64(e.Distance))
		if result.Valid {
			valid = append(valid, e)
			continue
		}
		failures = append(failures, Failure{
			Type:      "distance_validation",
			Edge:      e,
			Reason:    result.Reason,
			Timestamp: now,
		})
	}
	return valid, failures
}
