package roll_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/roll"
)

// TestRollRoundTrip is §8 testable property 5: pack three frames with no
// audio, expect frame_count=3, a 4-entry position index, and byte-exact
// random-access reads.
func TestRollRoundTrip(t *testing.T) {
	frames := []roll.FrameBlob{
		{Geometry: bytes.Repeat([]byte{0xA0}, 100), Texture: bytes.Repeat([]byte{0xB0}, 200)},
		{Geometry: bytes.Repeat([]byte{0xA1}, 120), Texture: bytes.Repeat([]byte{0xB1}, 180)},
		{Geometry: bytes.Repeat([]byte{0xA2}, 90), Texture: bytes.Repeat([]byte{0xB2}, 220)},
	}

	var buf bytes.Buffer
	require.NoError(t, roll.Pack(&buf, "shot1", "roll-1", 30, frames, nil, nil))

	r, err := roll.Read(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 3, r.Header.FrameCount)
	assert.Len(t, r.Header.Positions.FrameBufferPositions, 4)

	f1, err := r.Frame(1)
	require.NoError(t, err)
	assert.Len(t, f1.Geometry, 120)
	assert.Len(t, f1.Texture, 180)
	assert.Equal(t, frames[1].Geometry, f1.Geometry)
	assert.Equal(t, frames[1].Texture, f1.Texture)
}

// TestRollRejectsUnrecognizedMagic exercises the header-at-head version
// guard rather than silently misparsing a foreign or corrupt file.
func TestRollRejectsUnrecognizedMagic(t *testing.T) {
	_, err := roll.Read([]byte("not a roll file"))
	assert.ErrorIs(t, err, roll.ErrUnsupportedRollVersion)
}

// TestRollFrameOutOfRange exercises the Frame accessor's bounds check.
func TestRollFrameOutOfRange(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, roll.Pack(&buf, "shot1", "roll-1", 30, []roll.FrameBlob{
		{Geometry: []byte("g"), Texture: []byte("t")},
	}, nil, nil))

	r, err := roll.Read(buf.Bytes())
	require.NoError(t, err)

	_, err = r.Frame(5)
	assert.Error(t, err)
}
