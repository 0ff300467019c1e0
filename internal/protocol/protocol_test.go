package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/razermapper/razermapperd/internal/macro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		Op:     OpSetMacro,
		Device: "/dev/input/event0",
		Entry: macro.Entry{
			Name:    "m1",
			Trigger: macro.NewCombo([]uint16{30, 48}, []uint16{42}),
			Actions: []macro.Action{{Kind: macro.KeyPress, Code: 30}},
			Enabled: true,
		},
	}

	data, err := EncodeRequest(req)
	require.NoError(t, err)

	out, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, out)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{
		Op:      OpStatus,
		Status:  StatusInfo{DeviceCount: 2, MacroCount: 5, ActiveExecutions: 1},
		Message: "",
	}

	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	out, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, resp, out)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello world")

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameAtMaxSizeIsAccepted(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{'a'}, MaxMessageSize)

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Len(t, got, MaxMessageSize)
}

func TestFrameOverMaxSizeIsRejectedOnWrite(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{'a'}, MaxMessageSize+1)

	err := WriteFrame(&buf, payload)
	require.Error(t, err)
	assert.Equal(t, 0, buf.Len())
}

func TestReadFrameRejectsOversizeLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	// Craft a length prefix exceeding MaxMessageSize without a real payload.
	require.NoError(t, WriteFrame(&buf, bytes.Repeat([]byte{'a'}, 10)))
	raw := buf.Bytes()
	raw[0], raw[1], raw[2], raw[3] = 0xff, 0xff, 0xff, 0x7f // huge bogus length

	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestErrorResponseCarriesMessage(t *testing.T) {
	resp := ErrorResponse("Device not found")
	assert.Equal(t, OpError, resp.Op)
	assert.True(t, strings.Contains(resp.Message, "not found"))
}
