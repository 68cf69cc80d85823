// Package framer resynchronises a magic-prefixed byte stream into discrete
// frames and decodes the UWB two-way-ranging (TWR) packet protocol carried
// inside them: group assignments and distance matrices, emitted as edges.
package framer

import "fmt"

// NodeId identifies a UWB node. It is rendered externally as an uppercase
// 4-digit hex string.
type NodeId uint16

func (n NodeId) String() string {
	return fmt.Sprintf("%04X", uint16(n))
}

// DevEui identifies a LoRaWAN device. It is rendered externally as an
// uppercase 16-digit hex string.
type DevEui uint64

func (d DevEui) String() string {
	return fmt.Sprintf("%016X", uint64(d))
}

// Mode carries the two ranging-mode bits read from an Assignment packet.
type Mode uint8

const (
	ModeGroup1Internal Mode = 1 << 0
	ModeGroup2Internal Mode = 1 << 1
)

func (m Mode) Group1Internal() bool { return m&ModeGroup1Internal != 0 }
func (m Mode) Group2Internal() bool { return m&ModeGroup2Internal != 0 }

// Assignment is the parser's only durable state: the three disjoint node
// groups most recently announced by the device, plus the ranging mode and
// the txPower reported alongside them.
type Assignment struct {
	TxPower         uint8
	Mode            Mode
	G1, G2, G3      []NodeId
	UnassignedCount int // number of zero sentinels in G3 captured at parse time
}

// Valid reports whether the assignment has all three groups populated, the
// minimum an Assignment needs before a Distance packet may reference it.
func (a *Assignment) Valid() bool {
	return a != nil && len(a.G1) > 0 && len(a.G2) > 0 && len(a.G3) > 0
}

// resolveSentinel overwrites the i-th trailing sentinel slot of G3 (the
// slots the parser filled with 0 when it last read an Assignment).
func (a *Assignment) resolveSentinel(i int, id NodeId) {
	a.G3[len(a.G3)-a.UnassignedCount+i] = id
}

// Edge is an unordered two-way-ranging measurement between two nodes.
type Edge struct {
	A, B     NodeId
	Distance float32 // metres
}

// TWR-to-metres conversion factor and the exclusive upper bound on a valid
// distance, per the device's ranging unit definition.
const (
	TwrToMeters     = 0.004690384
	MaxDistanceM    = 300.0
	magicByte1      = 0xDC
	magicByte2      = 0xAC
	actTypeAssign   = 2
	actTypeDistance = 4
)
