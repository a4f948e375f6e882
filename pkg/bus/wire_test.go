package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	msg := &Message{
		Kind:    CameraStatus,
		Header:  map[string]string{"camera_id": "SN01", "state": "CAPTURING"},
		Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	raw, err := encodeFrame(msg)
	require.NoError(t, err)

	decoded, err := decodeFrame(raw)
	require.NoError(t, err)

	assert.Equal(t, msg.Kind, decoded.Kind)
	assert.Equal(t, msg.Header, decoded.Header)
	assert.Equal(t, msg.Payload, decoded.Payload)
}

func TestDecodeFrameRejectsCorruptHeader(t *testing.T) {
	msg := &Message{Kind: Retrigger, Header: map[string]string{"camera_id": "SN01"}}
	raw, err := encodeFrame(msg)
	require.NoError(t, err)

	raw[5] ^= 0xFF // flip a byte inside the header JSON

	_, err = decodeFrame(raw)
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestLocalPairDeliversWithoutFraming(t *testing.T) {
	received := make(chan *Message, 1)
	a, b := LocalPair(
		func(msg *Message) {},
		func(msg *Message) { received <- msg },
	)
	defer a.Close()
	defer b.Close()

	err := a.Send(&Message{Kind: Retrigger, Header: map[string]string{"camera_id": "SN01"}})
	require.NoError(t, err)

	msg := <-received
	assert.Equal(t, Retrigger, msg.Kind)
	assert.Equal(t, "SN01", msg.H("camera_id"))
}
