package distributed

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodec_EncodeDecodeRoundTrip(t *testing.T) {
	c := newCodec()
	body, err := c.encode(rciCall{Method: "ping", Args: 7})
	require.NoError(t, err)

	decoded, err := c.decode(body)
	require.NoError(t, err)
	call, ok := decoded.(rciCall)
	require.True(t, ok)
	require.Equal(t, "ping", call.Method)
	require.Equal(t, 7, call.Args)
}

func TestFrame_WriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("hello")))

	body, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, make([]byte, 0)))
	// Overwrite the length prefix with a value above maxFrame.
	wire := buf.Bytes()
	oversized := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	_, err := readFrame(bytes.NewReader(append(oversized, wire[4:]...)))
	require.Error(t, err)
}
