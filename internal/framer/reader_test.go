package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildFrame(payload []byte) []byte {
	out := []byte{magicByte1, magicByte2, byte(len(payload)), byte(len(payload) >> 8)}
	return append(out, payload...)
}

func TestStreamReaderSingleFrame(t *testing.T) {
	payload := []byte{0x02, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03}
	r := NewStreamReader()
	got := r.Feed(buildFrame(payload))
	assert.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestStreamReaderResyncOnGarbage(t *testing.T) {
	payload := []byte{1, 2, 3}
	garbage := []byte{0x01, 0xDC, 0x02, 0xFF}
	input := append(garbage, buildFrame(payload)...)

	r := NewStreamReader()
	got := r.Feed(input)
	assert.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestStreamReaderByteAtATimeMatchesWholeBlob(t *testing.T) {
	payload1 := []byte{1, 2, 3, 4}
	payload2 := []byte{5, 6}
	blob := append(buildFrame(payload1), buildFrame(payload2)...)

	whole := NewStreamReader()
	wholeFrames := whole.Feed(blob)

	bytewise := NewStreamReader()
	var gotFrames [][]byte
	for _, b := range blob {
		gotFrames = append(gotFrames, bytewise.Feed([]byte{b})...)
	}

	assert.Equal(t, wholeFrames, gotFrames)
	assert.Len(t, gotFrames, 2)
}

func TestStreamReaderWaitsForMoreData(t *testing.T) {
	r := NewStreamReader()
	got := r.Feed([]byte{magicByte1})
	assert.Empty(t, got)
	got = r.Feed([]byte{magicByte2, 0x02, 0x00, 0xAA})
	assert.Empty(t, got)
	got = r.Feed([]byte{0xBB})
	assert.Equal(t, [][]byte{{0xAA, 0xBB}}, got)
}
