package distributed

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// codec serializes distributed-layer payloads. The spec treats the wire
// codec as a pluggable, out-of-scope external collaborator; gob is the
// smallest faithful stand-in available without a protoc step (see
// DESIGN.md for the full justification).
type codec struct{}

func newCodec() *codec { return &codec{} }

func (codec) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, fmt.Errorf("asyncoro/distributed: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (codec) decode(data []byte) (any, error) {
	var v any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("asyncoro/distributed: decode: %w", err)
	}
	return v, nil
}

// writeFrame writes a u32 big-endian length prefix followed by body,
// matching asyncoro.py's _NetRequest wire framing.
func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one length-prefixed frame body.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	const maxFrame = 64 << 20
	if n > maxFrame {
		return nil, fmt.Errorf("asyncoro/distributed: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// RegisterType makes a concrete type serializable via gob across the
// distributed layer; callers must register any type they intend to send
// as an RCI argument, channel payload, or monitor signal.
func RegisterType(value any) {
	gob.Register(value)
}
