package framer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDistanceBeforeAssignment is returned when a Distance payload arrives
// before any valid Assignment has been parsed. Per the error taxonomy this
// is an operational artefact, not data corruption, and must not be counted
// as a parsing error.
var ErrDistanceBeforeAssignment = errors.New("distance packet received before a valid assignment")

// ErrUnknownActType describes a payload whose actType is neither
// Assignment nor Distance. ParsePayload does not return it: such payloads
// are skipped with a nil error and no edges.
var ErrUnknownActType = errors.New("unrecognised actType, payload skipped")

// ParseError wraps a payload that could not be decoded (truncation or an
// internal arithmetic inconsistency). Every ParseError counts against the
// parsing error budget in the resilience layer.
type ParseError struct {
	reason string
}

func (e *ParseError) Error() string { return "parse error: " + e.reason }

func parseErrorf(format string, args ...interface{}) error {
	return &ParseError{reason: fmt.Sprintf(format, args...)}
}

// Outcome is the result of parsing one payload.
type Outcome struct {
	Edges             []Edge
	AssignmentChanged bool // true iff this payload replaced the current Assignment
}

// Parser holds the one piece of durable parser state: the most recently
// announced Assignment. It has no framing concerns; feed it payloads
// already extracted by a StreamReader.
type Parser struct {
	current *Assignment
}

func NewParser() *Parser {
	return &Parser{}
}

// Reset discards the current Assignment, returning the parser to the
// NoAssignment state. Called after a device reset.
func (p *Parser) Reset() {
	p.current = nil
}

// CurrentAssignment returns the assignment currently held, or nil.
func (p *Parser) CurrentAssignment() *Assignment {
	return p.current
}

// ParsePayload decodes one framed payload and returns the edges it
// produced, if any. An unknown actType is tolerated (payload consumed, no
// emission, no error). A malformed Assignment or Distance payload returns a
// *ParseError and leaves the current Assignment unchanged (or, for a
// malformed Assignment, discarded — see below).
func (p *Parser) ParsePayload(payload []byte) (Outcome, error) {
	if len(payload) < 4 {
		return Outcome{}, parseErrorf("payload too short for preamble: %d bytes", len(payload))
	}

	actType := payload[0]
	// actSlot := int8(payload[1]) // present in the wire format, not consulted here
	// timeframe := binary.LittleEndian.Uint16(payload[2:4]) // likewise
	body := payload[4:]

	switch actType {
	case actTypeAssign:
		return p.parseAssignment(body)
	case actTypeDistance:
		return p.parseDistance(body)
	default:
		return Outcome{}, nil
	}
}

func (p *Parser) parseAssignment(body []byte) (Outcome, error) {
	if len(body) < 5 {
		return Outcome{}, parseErrorf("assignment preamble truncated: %d bytes", len(body))
	}

	txPower := body[0]
	mode := Mode(body[1])
	g1Count := int(body[2])
	g2Count := int(body[3])
	g3Count := int(body[4])

	need := (g1Count + g2Count + g3Count) * 2
	rest := body[5:]
	if len(rest) < need {
		// Malformed Assignment: per the state machine this returns the
		// parser to NoAssignment, discarding whatever it held.
		p.current = nil
		return Outcome{}, parseErrorf("assignment group data truncated: need %d bytes, have %d", need, len(rest))
	}

	readIds := func(n int) []NodeId {
		ids := make([]NodeId, n)
		for i := 0; i < n; i++ {
			ids[i] = NodeId(binary.LittleEndian.Uint16(rest[:2]))
			rest = rest[2:]
		}
		return ids
	}

	g1 := readIds(g1Count)
	g2 := readIds(g2Count)
	g3 := readIds(g3Count)

	unassigned := 0
	for _, id := range g3 {
		if id == 0 {
			unassigned++
		}
	}

	p.current = &Assignment{
		TxPower:         txPower,
		Mode:            mode,
		G1:              g1,
		G2:              g2,
		G3:              g3,
		UnassignedCount: unassigned,
	}

	return Outcome{AssignmentChanged: true}, nil
}

func (p *Parser) parseDistance(body []byte) (Outcome, error) {
	if !p.current.Valid() {
		return Outcome{}, ErrDistanceBeforeAssignment
	}

	a := p.current
	g1, g2, g3 := len(a.G1), len(a.G2), len(a.G3)
	mode := a.Mode

	tofCount := g1*g2 + g1*g3 + g2*g3
	if mode.Group1Internal() {
		tofCount += g1 * (g1 - 1) / 2
	}
	if mode.Group2Internal() {
		tofCount += g2 * (g2 - 1) / 2
	}

	needTwr := tofCount * 2
	needUnassigned := a.UnassignedCount * 2
	if len(body) < needTwr+needUnassigned {
		return Outcome{}, parseErrorf(
			"distance payload truncated: need %d bytes (%d twr + %d unassigned), have %d",
			needTwr+needUnassigned, needTwr, needUnassigned, len(body))
	}

	twr := make([]uint16, tofCount)
	for i := 0; i < tofCount; i++ {
		twr[i] = binary.LittleEndian.Uint16(body[i*2 : i*2+2])
	}
	body = body[needTwr:]

	for i := 0; i < a.UnassignedCount; i++ {
		id := NodeId(binary.LittleEndian.Uint16(body[i*2 : i*2+2]))
		a.resolveSentinel(i, id)
	}

	decode := func(raw uint16) (float32, bool) {
		if raw == 0 {
			return 0, false
		}
		m := float32(raw) * TwrToMeters
		if m >= MaxDistanceM {
			return 0, false
		}
		return m, true
	}

	var edges []Edge
	idx := 0
	emit := func(na, nb NodeId) {
		d, ok := decode(twr[idx])
		idx++
		if ok {
			edges = append(edges, Edge{A: na, B: nb, Distance: d})
		}
	}

	// Block order: G1xG2, G1xG3, G2xG3, [G1 internal], [G2 internal].
	// Within each block the outer index varies slowest.
	for _, n1 := range a.G1 {
		for _, n2 := range a.G2 {
			emit(n1, n2)
		}
	}
	for _, n1 := range a.G1 {
		for _, n3 := range a.G3 {
			emit(n1, n3)
		}
	}
	for _, n2 := range a.G2 {
		for _, n3 := range a.G3 {
			emit(n2, n3)
		}
	}
	if mode.Group1Internal() {
		for i := 0; i < g1; i++ {
			for j := i + 1; j < g1; j++ {
				emit(a.G1[i], a.G1[j])
			}
		}
	}
	if mode.Group2Internal() {
		for i := 0; i < g2; i++ {
			for j := i + 1; j < g2; j++ {
				emit(a.G2[i], a.G2[j])
			}
		}
	}

	return Outcome{Edges: edges}, nil
}
