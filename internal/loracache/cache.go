package loracache

import (
	"strings"
	"sync"
	"time"

	"github.com/dynamicdevices/uwb-bridge/internal/framer"
)

// TTLConfig holds the two eviction TTLs and the sweep interval.
type TTLConfig struct {
	GpsTtl          time.Duration
	SensorTtl       time.Duration
	CleanupInterval time.Duration
}

func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		GpsTtl:          300 * time.Second,
		SensorTtl:       600 * time.Second,
		CleanupInterval: 60 * time.Second,
	}
}

// DevEuiToNodeId is an immutable static mapping loaded once at startup.
type DevEuiToNodeId map[framer.DevEui]framer.NodeId

// Cache is the dual-indexed, TTL-bounded LoRa telemetry view. One
// ingestion goroutine owns the writes; one eviction goroutine sweeps
// periodically; any number of readers may call the Get* methods
// concurrently. A single RWMutex protects both indices, and readers
// receive copies rather than references into the cache.
type Cache struct {
	mu       sync.RWMutex
	byDevEui map[framer.DevEui]*Record
	byNodeId map[framer.NodeId]*Record
	mapping  DevEuiToNodeId
	ttl      TTLConfig
}

func New(mapping DevEuiToNodeId, ttl TTLConfig) *Cache {
	return &Cache{
		byDevEui: make(map[framer.DevEui]*Record),
		byNodeId: make(map[framer.NodeId]*Record),
		mapping:  mapping,
		ttl:      ttl,
	}
}

// Put installs rec into both indices under a single lock, per the
// invariant that an entry present in the NodeId index is always present in
// the DevEui index with equal contents.
func (c *Cache) Put(rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byDevEui[rec.DevEui] = rec
	if nodeId, ok := c.mapping[rec.DevEui]; ok {
		c.byNodeId[nodeId] = rec
	}
}

// GetByDevEui returns whatever is present for devEui without TTL
// filtering, for diagnostics use.
func (c *Cache) GetByDevEui(devEui framer.DevEui) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byDevEui[devEui]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// GetByNodeId returns the record for nodeId iff it is not expired under the
// selected criteria. maxAge, if non-zero, overrides the configured TTLs
// uniformly; checkGpsStaleness defaults to true in callers that don't care.
func (c *Cache) GetByNodeId(nodeId framer.NodeId, maxAge time.Duration, checkGpsStaleness bool, now time.Time) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byNodeId[nodeId]
	if !ok {
		return Record{}, false
	}

	gpsTtl, sensorTtl := c.ttl.GpsTtl, c.ttl.SensorTtl
	if maxAge > 0 {
		gpsTtl, sensorTtl = maxAge, maxAge
	}
	if rec.expired(now, gpsTtl, sensorTtl, checkGpsStaleness) {
		return Record{}, false
	}
	return *rec, true
}

// Sweep deletes every entry expired at time now from both indices. It is
// intended to be called periodically from a scheduler.
func (c *Cache) Sweep(now time.Time) (devEuiRemoved, nodeIdRemoved int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, rec := range c.byDevEui {
		if rec.expired(now, c.ttl.GpsTtl, c.ttl.SensorTtl, true) {
			delete(c.byDevEui, k)
			devEuiRemoved++
		}
	}
	for k, rec := range c.byNodeId {
		if rec.expired(now, c.ttl.GpsTtl, c.ttl.SensorTtl, true) {
			delete(c.byNodeId, k)
			nodeIdRemoved++
		}
	}
	return devEuiRemoved, nodeIdRemoved
}

// Snapshot returns a point-in-time copy of the NodeId-indexed view, for
// the network materialiser to consult without holding the cache lock.
func (c *Cache) Snapshot() map[framer.NodeId]Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[framer.NodeId]Record, len(c.byNodeId))
	for k, rec := range c.byNodeId {
		out[k] = *rec
	}
	return out
}

// Stats reports simple cache occupancy counters for the diagnostics
// endpoint.
type Stats struct {
	DevEuiCount  int `json:"devEuiCount"`
	NodeIdCount  int `json:"nodeIdCount"`
	MappingCount int `json:"mappingCount"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		DevEuiCount:  len(c.byDevEui),
		NodeIdCount:  len(c.byNodeId),
		MappingCount: len(c.mapping),
	}
}

// ParseDevEuiToNodeIdMap normalises a raw {hex: hex} mapping (as loaded
// from the dev-EUI config file) to canonical uppercase typed keys/values.
func ParseDevEuiToNodeIdMap(raw map[string]string) (DevEuiToNodeId, error) {
	out := make(DevEuiToNodeId, len(raw))
	for k, v := range raw {
		devEui, err := parseDevEuiHex(strings.ToUpper(strings.TrimSpace(k)))
		if err != nil {
			return nil, err
		}
		nodeId, err := parseNodeIdHex(strings.ToUpper(strings.TrimSpace(v)))
		if err != nil {
			return nil, err
		}
		out[devEui] = nodeId
	}
	return out, nil
}
