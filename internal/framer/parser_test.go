package framer

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16le(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func assignmentPayload(mode uint8, g1, g2, g3 []uint16) []byte {
	p := []byte{actTypeAssign, 0, 0, 0, 0, mode, byte(len(g1)), byte(len(g2)), byte(len(g3))}
	for _, id := range g1 {
		p = append(p, u16le(id)...)
	}
	for _, id := range g2 {
		p = append(p, u16le(id)...)
	}
	for _, id := range g3 {
		p = append(p, u16le(id)...)
	}
	return p
}

func distancePayload(twr []uint16, unassigned []uint16) []byte {
	p := []byte{actTypeDistance, 0, 0, 0}
	for _, v := range twr {
		p = append(p, u16le(v)...)
	}
	for _, v := range unassigned {
		p = append(p, u16le(v)...)
	}
	return p
}

func TestParsePlainAssignmentAndDistance(t *testing.T) {
	p := NewParser()

	assignOut, err := p.ParsePayload(assignmentPayload(0, []uint16{0xB4D3}, []uint16{0xB98A}, []uint16{0xB4F1}))
	require.NoError(t, err)
	assert.True(t, assignOut.AssignmentChanged)
	require.True(t, p.CurrentAssignment().Valid())

	distOut, err := p.ParsePayload(distancePayload([]uint16{1066, 1066, 1066}, nil))
	require.NoError(t, err)
	require.Len(t, distOut.Edges, 3)

	want := map[[2]NodeId]bool{
		{0xB4D3, 0xB98A}: true,
		{0xB4D3, 0xB4F1}: true,
		{0xB98A, 0xB4F1}: true,
	}
	for _, e := range distOut.Edges {
		assert.True(t, want[[2]NodeId{e.A, e.B}], "unexpected edge %v-%v", e.A, e.B)
		assert.InDelta(t, 1066*TwrToMeters, e.Distance, 1e-6)
	}
}

func TestDistanceBeforeAssignmentIsNotAParseError(t *testing.T) {
	p := NewParser()
	_, err := p.ParsePayload(distancePayload([]uint16{1066}, nil))
	assert.ErrorIs(t, err, ErrDistanceBeforeAssignment)
}

func TestTwrBoundaryValues(t *testing.T) {
	p := NewParser()
	_, err := p.ParsePayload(assignmentPayload(0, []uint16{1}, []uint16{2}, []uint16{3}))
	require.NoError(t, err)

	lowBound := uint16(0)
	one := uint16(1)
	justUnder := uint16(math.Floor(300 / TwrToMeters)) // floor
	justOver := justUnder + 1

	out, err := p.ParsePayload(distancePayload([]uint16{lowBound, one, justUnder}, nil))
	require.NoError(t, err)
	require.Len(t, out.Edges, 2) // the zero value is dropped, the other two kept

	p2 := NewParser()
	_, _ = p2.ParsePayload(assignmentPayload(0, []uint16{1}, []uint16{2}, []uint16{3}))
	out2, err := p2.ParsePayload(distancePayload([]uint16{one, justUnder, justOver}, nil))
	require.NoError(t, err)
	require.Len(t, out2.Edges, 2) // the overflowing value at 300m+ is dropped
}

func TestSentinelResolutionByFollowingDistancePacket(t *testing.T) {
	p := NewParser()
	_, err := p.ParsePayload(assignmentPayload(0, []uint16{0x0001}, []uint16{0x0002}, []uint16{0}))
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentAssignment().UnassignedCount)

	// One node per group: tofCount = 1*1 + 1*1 + 1*1 = 3 TWR values.
	out, err := p.ParsePayload(distancePayload([]uint16{1066, 1066, 1066}, []uint16{0x0003}))
	require.NoError(t, err)
	require.Len(t, out.Edges, 3)
	assert.Equal(t, NodeId(0x0001), out.Edges[0].A)
	assert.Equal(t, NodeId(0x0002), out.Edges[0].B)
	assert.Equal(t, []NodeId{0x0003}, p.CurrentAssignment().G3)
}

func TestGroupInternalModesEmitUpperTriangularEdges(t *testing.T) {
	p := NewParser()
	_, err := p.ParsePayload(assignmentPayload(
		uint8(ModeGroup1Internal|ModeGroup2Internal),
		[]uint16{1, 2}, []uint16{3, 4}, []uint16{5}))
	require.NoError(t, err)

	// tofCount = 2*2 + 2*1 + 2*1 + g1C(2,2)=1 + g2C(2,2)=1 = 4+2+2+1+1 = 10
	twr := make([]uint16, 10)
	for i := range twr {
		twr[i] = 1066
	}
	out, err := p.ParsePayload(distancePayload(twr, nil))
	require.NoError(t, err)
	assert.Len(t, out.Edges, 10)

	last := out.Edges[len(out.Edges)-1]
	assert.Equal(t, NodeId(3), last.A)
	assert.Equal(t, NodeId(4), last.B)
}

func TestTruncatedAssignmentResetsToNoAssignment(t *testing.T) {
	p := NewParser()
	_, _ = p.ParsePayload(assignmentPayload(0, []uint16{1}, []uint16{2}, []uint16{3}))
	require.True(t, p.CurrentAssignment().Valid())

	bad := []byte{actTypeAssign, 0, 0, 0, 0, 0, 1, 1, 1} // claims 3 ids, supplies none
	_, err := p.ParsePayload(bad)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Nil(t, p.CurrentAssignment())
}

func TestUnknownActTypeIsSkippedSilently(t *testing.T) {
	p := NewParser()
	out, err := p.ParsePayload([]byte{99, 0, 0, 0, 1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, out.Edges)
}
