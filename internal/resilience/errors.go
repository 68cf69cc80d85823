// Package resilience accounts for the four error classes the bridge can
// hit, gates device resets behind exponential backoff, and derives the
// health document from accumulated metrics.
package resilience

import "sync"

// ErrorClass identifies one of the four independently thresholded error
// budgets.
type ErrorClass int

const (
	ErrorParsing ErrorClass = iota
	ErrorConnection
	ErrorSerial
	ErrorMqtt
	numErrorClasses
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorParsing:
		return "parsing"
	case ErrorConnection:
		return "connection"
	case ErrorSerial:
		return "serial"
	case ErrorMqtt:
		return "mqtt"
	default:
		return "unknown"
	}
}

// Thresholds holds the per-class reset threshold. DefaultThresholds sets
// all four classes to 3.
type Thresholds struct {
	Parsing    int
	Connection int
	Serial     int
	Mqtt       int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Parsing: 3, Connection: 3, Serial: 3, Mqtt: 3}
}

func (t Thresholds) get(c ErrorClass) int {
	switch c {
	case ErrorParsing:
		return t.Parsing
	case ErrorConnection:
		return t.Connection
	case ErrorSerial:
		return t.Serial
	case ErrorMqtt:
		return t.Mqtt
	default:
		return 0
	}
}

// Classifier tracks independent counters for each error class.
type Classifier struct {
	mu         sync.Mutex
	thresholds Thresholds
	counts     [numErrorClasses]int
}

func NewClassifier(thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Record increments the counter for class c and reports whether its
// threshold has now been reached.
func (c *Classifier) Record(class ErrorClass) (count int, thresholdReached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[class]++
	return c.counts[class], c.counts[class] >= c.thresholds.get(class)
}

// Reset zeroes the counter for one class, e.g. after a device reset
// resolves the condition that tripped it. Other counters are untouched.
func (c *Classifier) Reset(class ErrorClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[class] = 0
}

func (c *Classifier) Count(class ErrorClass) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[class]
}
