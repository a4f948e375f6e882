// Package frame implements the per-frame geometry+texture container
// produced by the resolve engine and consumed by the roll container and
// resolve cache. The on-disk layout is byte-exact:
//
//	offset  size   field
//	  0      4     point_count (uint32 LE)
//	  4      4     pos_size    (uint32 LE, deflate-compressed length)
//	  8      4     uv_size     (uint32 LE, deflate-compressed length)
//	 12  pos_size  positions   (deflate of point_count*3 float32, LE)
//	 12+pos_size .. uv_size    uvs (deflate of point_count*2 float32, LE)
//	 ...    rest   texture     (JPEG, remainder of the file)
package frame

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/sigurn/crc8"
)

var crc8Table = crc8.MakeTable(crc8.CRC8)

const legacyHeaderSize = 12

// Record holds one decoded frame: positions (x,y,z triplets), UVs (u,v
// pairs) and the raw JPEG texture bytes.
type Record struct {
	Positions []float32 // len = 3*PointCount
	UVs       []float32 // len = 2*PointCount
	Texture   []byte
}

// PointCount returns the number of vertices encoded in the record.
func (r *Record) PointCount() int { return len(r.Positions) / 3 }

// EncodeLegacy writes r in the exact §6 byte layout (no trailing CRC8).
func EncodeLegacy(w io.Writer, r *Record) error {
	pos, err := deflateFloats(r.Positions)
	if err != nil {
		return fmt.Errorf("deflate positions: %w", err)
	}
	uv, err := deflateFloats(r.UVs)
	if err != nil {
		return fmt.Errorf("deflate uvs: %w", err)
	}

	header := make([]byte, legacyHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(r.PointCount()))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(pos)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(uv)))

	for _, chunk := range [][]byte{header, pos, uv, r.Texture} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("write frame record: %w", err)
		}
	}
	return nil
}

// DecodeLegacy reads the exact §6 byte layout (farm-produced frame records
// are always read this way; the resolve engine binding never writes the
// CRC8 byte this module's own codec adds).
func DecodeLegacy(data []byte) (*Record, error) {
	if len(data) < legacyHeaderSize {
		return nil, fmt.Errorf("frame record too short: %d bytes", len(data))
	}
	pointCount := binary.LittleEndian.Uint32(data[0:4])
	posSize := binary.LittleEndian.Uint32(data[4:8])
	uvSize := binary.LittleEndian.Uint32(data[8:12])

	want := int64(legacyHeaderSize) + int64(posSize) + int64(uvSize)
	if int64(len(data)) < want {
		return nil, fmt.Errorf("frame record truncated: have %d bytes, need at least %d", len(data), want)
	}

	posStart := legacyHeaderSize
	uvStart := posStart + int(posSize)
	texStart := uvStart + int(uvSize)

	positions, err := inflateFloats(data[posStart:uvStart], int(pointCount)*3)
	if err != nil {
		return nil, fmt.Errorf("inflate positions: %w", err)
	}
	uvs, err := inflateFloats(data[uvStart:texStart], int(pointCount)*2)
	if err != nil {
		return nil, fmt.Errorf("inflate uvs: %w", err)
	}

	texture := make([]byte, len(data)-texStart)
	copy(texture, data[texStart:])

	return &Record{Positions: positions, UVs: uvs, Texture: texture}, nil
}

// Encode writes r with this module's 13th-byte CRC8 integrity extension
// (over the 12-byte legacy header).
func Encode(w io.Writer, r *Record) error {
	var buf bytes.Buffer
	if err := EncodeLegacy(&buf, r); err != nil {
		return err
	}
	full := buf.Bytes()
	header := full[:legacyHeaderSize]
	rest := full[legacyHeaderSize:]

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write([]byte{crc8Of(header)}); err != nil {
		return err
	}
	_, err := w.Write(rest)
	return err
}

// Decode reads a record, accepting both this module's 13-byte-header shape
// and the plain legacy shape (no 13th byte) so mixed-origin files decode
// uniformly.
func Decode(data []byte) (*Record, error) {
	if len(data) >= legacyHeaderSize+1 {
		header := data[:legacyHeaderSize]
		if data[legacyHeaderSize] == crc8Of(header) {
			posSize := binary.LittleEndian.Uint32(header[4:8])
			uvSize := binary.LittleEndian.Uint32(header[8:12])
			want := int64(legacyHeaderSize) + 1 + int64(posSize) + int64(uvSize)
			if int64(len(data)) >= want {
				legacy := append(append([]byte{}, header...), data[legacyHeaderSize+1:]...)
				return DecodeLegacy(legacy)
			}
		}
	}
	return DecodeLegacy(data)
}

func deflateFloats(values []float32) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], math.Float32bits(v))
	}
	if _, err := fw.Write(raw); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflateFloats(compressed []byte, count int) ([]float32, error) {
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	raw, err := io.ReadAll(fr)
	if err != nil {
		return nil, err
	}
	if len(raw) != count*4 {
		return nil, fmt.Errorf("unexpected inflated length: got %d bytes, want %d", len(raw), count*4)
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return out, nil
}

func crc8Of(data []byte) byte {
	return crc8.Checksum(data, crc8Table)
}
