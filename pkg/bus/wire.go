package bus

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// ErrProtocolViolation marks a frame that failed CRC validation or could
// not be parsed — callers classify it via errs.ProtocolViolation.
var ErrProtocolViolation = errors.New("bus: protocol violation")

var crc16Table = crc16.MakeTable(crc16.CRC16_ARC)

// encodeFrame serializes msg as: kind (uint16) || header_len (uint16) ||
// header (JSON) || crc16 (over kind+header_len+header) || payload.
func encodeFrame(msg *Message) ([]byte, error) {
	headerJSON, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("marshal bus header: %w", err)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint16(msg.Kind)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(headerJSON))); err != nil {
		return nil, err
	}
	buf.Write(headerJSON)

	crc := crc16.Checksum(buf.Bytes(), crc16Table)
	var crcBuf bytes.Buffer
	binary.Write(&crcBuf, binary.LittleEndian, crc)
	buf.Write(crcBuf.Bytes())

	buf.Write(msg.Payload)
	return buf.Bytes(), nil
}

// decodeFrame parses the wire layout, returning ErrProtocolViolation on a
// CRC mismatch or malformed structure.
func decodeFrame(data []byte) (*Message, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrProtocolViolation, len(data))
	}
	kind := Kind(binary.LittleEndian.Uint16(data[0:2]))
	headerLen := binary.LittleEndian.Uint16(data[2:4])

	if len(data) < 4+int(headerLen)+2 {
		return nil, fmt.Errorf("%w: truncated header", ErrProtocolViolation)
	}
	headerJSON := data[4 : 4+int(headerLen)]
	gotCRC := binary.LittleEndian.Uint16(data[4+int(headerLen) : 4+int(headerLen)+2])
	payload := data[4+int(headerLen)+2:]

	wantCRC := crc16.Checksum(data[0:4+int(headerLen)], crc16Table)
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: crc mismatch (got %x want %x)", ErrProtocolViolation, gotCRC, wantCRC)
	}

	var header map[string]string
	if len(headerJSON) > 0 {
		if err := json.Unmarshal(headerJSON, &header); err != nil {
			return nil, fmt.Errorf("%w: header json: %v", ErrProtocolViolation, err)
		}
	}

	out := make([]byte, len(payload))
	copy(out, payload)

	return &Message{Kind: kind, Header: header, Payload: out}, nil
}
