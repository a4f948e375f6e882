package frame_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/frame"
)

func sampleRecord() *frame.Record {
	return &frame.Record{
		Positions: []float32{0, 0, 0, 1, 1, 1, 2, -2, 0.5},
		UVs:       []float32{0, 0, 1, 0, 1, 1},
		Texture:   []byte{0xFF, 0xD8, 0xFF, 0xD9},
	}
}

func TestEncodeLegacyDecodeLegacyRoundTrip(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	require.NoError(t, frame.EncodeLegacy(&buf, rec))

	got, err := frame.DecodeLegacy(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, rec.Positions, got.Positions)
	assert.Equal(t, rec.UVs, got.UVs)
	assert.Equal(t, rec.Texture, got.Texture)
	assert.Equal(t, 3, got.PointCount())
}

// TestDecodeAcceptsLegacyShape confirms Decode falls back to the plain
// 12-byte header when the 13th byte isn't a matching CRC8 (i.e. a
// farm-produced record with no integrity byte at all).
func TestDecodeAcceptsLegacyShape(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	require.NoError(t, frame.EncodeLegacy(&buf, rec))

	got, err := frame.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, rec.Positions, got.Positions)
	assert.Equal(t, rec.Texture, got.Texture)
}

// TestEncodeDecodeRoundTripWithCRC8 exercises this module's own 13-byte
// extension end-to-end.
func TestEncodeDecodeRoundTripWithCRC8(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	require.NoError(t, frame.Encode(&buf, rec))

	got, err := frame.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, rec.Positions, got.Positions)
	assert.Equal(t, rec.UVs, got.UVs)
	assert.Equal(t, rec.Texture, got.Texture)
}

func TestDecodeLegacyTruncatedIsError(t *testing.T) {
	_, err := frame.DecodeLegacy([]byte{1, 2, 3})
	assert.Error(t, err)
}
