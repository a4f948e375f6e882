// Package roll implements the packed multi-frame "4D roll" container:
// header-at-head with a JSON trailer and positional index arrays, per the
// resolved Open Question (§9 of the design) over the two layouts the
// original tooling left coexisting.
package roll

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const magic = "4DR1"

// ErrUnsupportedRollVersion is returned when a file's magic does not match
// the header-at-head layout this package implements.
var ErrUnsupportedRollVersion = errors.New("roll: unsupported or unrecognized roll version")

// Positions carries the three index arrays into the payload region.
type Positions struct {
	FrameBufferPositions   []uint64 `json:"frame_buffer_positions"`
	HDFrameBufferPositions []uint64 `json:"hd_frame_buffer_positions,omitempty"`
	AudioBufferPositions   []uint64 `json:"audio_buffer_positions,omitempty"`
}

// Header is the JSON trailer describing the roll's contents.
type Header struct {
	Version           string            `json:"version"`
	Name              string            `json:"name"`
	ID                string            `json:"id"`
	FrameCount        int               `json:"frame_count"`
	FPS               float64           `json:"fps"`
	DataFormatTags    map[string]string `json:"data_format_tags,omitempty"`
	TextureResolution []int             `json:"texture_resolution_tiers,omitempty"`
	Positions         Positions         `json:"positions"`
}

// FrameBlob is one frame's geometry+texture pair as stored in the roll.
type FrameBlob struct {
	Geometry []byte
	Texture  []byte
}

// Roll is a fully-loaded in-memory roll: header plus every frame blob and
// the optional audio blob.
type Roll struct {
	Header Header
	Frames []FrameBlob
	Audio  []byte
}

// Pack writes frames (and optional audio) to w in header-at-head layout.
// hdFrames may be nil when there is no HD tier.
func Pack(w io.Writer, name, id string, fps float64, frames []FrameBlob, hdFrames []FrameBlob, audio []byte) error {
	var payload bytes.Buffer
	framePos := make([]uint64, 0, len(frames)+1)
	for _, f := range frames {
		framePos = append(framePos, uint64(payload.Len()))
		if err := writeFrameBlob(&payload, f); err != nil {
			return fmt.Errorf("write frame blob: %w", err)
		}
	}
	framePos = append(framePos, uint64(payload.Len()))

	var hdPos []uint64
	if len(hdFrames) > 0 {
		hdPos = make([]uint64, 0, len(hdFrames)+1)
		for _, f := range hdFrames {
			hdPos = append(hdPos, uint64(payload.Len()))
			if err := writeFrameBlob(&payload, f); err != nil {
				return fmt.Errorf("write hd frame blob: %w", err)
			}
		}
		hdPos = append(hdPos, uint64(payload.Len()))
	}

	var audioPos []uint64
	if len(audio) > 0 {
		audioPos = []uint64{uint64(payload.Len())}
		if _, err := payload.Write(audio); err != nil {
			return err
		}
		audioPos = append(audioPos, uint64(payload.Len()))
	}

	header := Header{
		Version:    "1",
		Name:       name,
		ID:         id,
		FrameCount: len(frames),
		FPS:        fps,
		Positions: Positions{
			FrameBufferPositions:   framePos,
			HDFrameBufferPositions: hdPos,
			AudioBufferPositions:   audioPos,
		},
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal roll header: %w", err)
	}

	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(headerJSON)))
	if _, err := w.Write(sizeBuf); err != nil {
		return err
	}
	if _, err := w.Write(headerJSON); err != nil {
		return err
	}
	_, err = w.Write(payload.Bytes())
	return err
}

func writeFrameBlob(buf *bytes.Buffer, f FrameBlob) error {
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(f.Geometry)))
	if _, err := buf.Write(sizeBuf); err != nil {
		return err
	}
	if _, err := buf.Write(f.Geometry); err != nil {
		return err
	}
	_, err := buf.Write(f.Texture)
	return err
}

// Read parses a full roll from data, validating the header invariants
// (§8: frame_count == len(positions)-1, strictly increasing positions, last
// position equals len(payload)).
func Read(data []byte) (*Roll, error) {
	if len(data) < 8 || string(data[0:4]) != magic {
		return nil, ErrUnsupportedRollVersion
	}
	headerSize := binary.LittleEndian.Uint32(data[4:8])
	if uint64(8)+uint64(headerSize) > uint64(len(data)) {
		return nil, fmt.Errorf("roll: header size %d exceeds file length", headerSize)
	}
	headerJSON := data[8 : 8+int(headerSize)]
	payload := data[8+int(headerSize):]

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("roll: parse header: %w", err)
	}

	if err := validatePositions(header.Positions.FrameBufferPositions, header.FrameCount, len(payload)); err != nil {
		return nil, fmt.Errorf("roll: frame positions: %w", err)
	}

	frames, err := readBlobs(payload, header.Positions.FrameBufferPositions)
	if err != nil {
		return nil, fmt.Errorf("roll: read frame blobs: %w", err)
	}

	var audio []byte
	if ap := header.Positions.AudioBufferPositions; len(ap) == 2 {
		if ap[0] > ap[1] || ap[1] > uint64(len(payload)) {
			return nil, fmt.Errorf("roll: invalid audio positions %v", ap)
		}
		audio = append([]byte{}, payload[ap[0]:ap[1]]...)
	}

	return &Roll{Header: header, Frames: frames, Audio: audio}, nil
}

func validatePositions(positions []uint64, frameCount, payloadLen int) error {
	if len(positions) != frameCount+1 {
		return fmt.Errorf("len(positions)=%d, want frame_count+1=%d", len(positions), frameCount+1)
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			return fmt.Errorf("positions not strictly increasing at index %d", i)
		}
	}
	if len(positions) > 0 && positions[len(positions)-1] != uint64(payloadLen) {
		return fmt.Errorf("last position %d != payload length %d", positions[len(positions)-1], payloadLen)
	}
	return nil
}

func readBlobs(payload []byte, positions []uint64) ([]FrameBlob, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	blobs := make([]FrameBlob, 0, len(positions)-1)
	for i := 0; i < len(positions)-1; i++ {
		start, end := positions[i], positions[i+1]
		blob := payload[start:end]
		if len(blob) < 4 {
			return nil, fmt.Errorf("frame blob %d too short", i)
		}
		geoSize := binary.LittleEndian.Uint32(blob[0:4])
		if uint64(4)+uint64(geoSize) > uint64(len(blob)) {
			return nil, fmt.Errorf("frame blob %d geo_size %d exceeds blob length", i, geoSize)
		}
		geo := append([]byte{}, blob[4:4+geoSize]...)
		tex := append([]byte{}, blob[4+geoSize:]...)
		blobs = append(blobs, FrameBlob{Geometry: geo, Texture: tex})
	}
	return blobs, nil
}

// Frame returns the i-th frame blob (0-indexed), matching §8's round-trip
// property for random-access reads.
func (r *Roll) Frame(i int) (FrameBlob, error) {
	if i < 0 || i >= len(r.Frames) {
		return FrameBlob{}, fmt.Errorf("roll: frame index %d out of range [0,%d)", i, len(r.Frames))
	}
	return r.Frames[i], nil
}
