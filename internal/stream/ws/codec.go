// Package ws is a minimal client side of RFC 6455: the opening handshake,
// frame decoding and the masked ping frame. It understands exactly what
// the push stream sends (unfragmented text frames, pings, close) and
// nothing more.
package ws

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(o))
	}
}

// MaxPayload bounds a single frame. Push messages are a few KiB; anything
// near this size is a corrupt length field.
const MaxPayload = 16 << 20

var ErrFrameTooLarge = errors.New("ws: frame too large")

// Frame is one decoded frame with its payload already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

func (f Frame) IsText() bool { return f.Opcode == OpText }

// ReadFrame reads one frame from r.
//
// io.EOF is returned only when r ends cleanly before the first header
// byte; a frame cut short yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Fin:    hdr[0]&0x80 != 0,
		Opcode: Opcode(hdr[0] & 0x0F),
	}
	masked := hdr[1]&0x80 != 0

	length := uint64(hdr[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, noEOF(err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, noEOF(err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	var mask [4]byte
	if masked {
		if _, err := io.ReadFull(r, mask[:]); err != nil {
			return Frame{}, noEOF(err)
		}
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, noEOF(err)
	}
	if masked {
		for i := range f.Payload {
			f.Payload[i] ^= mask[i%4]
		}
	}
	return f, nil
}

// EncodePing returns a zero-length ping frame. Frames sent by a client
// must be masked, so the mask bit is set and the key follows the header.
func EncodePing(mask [4]byte) []byte {
	return []byte{0x80 | byte(OpPing), 0x80, mask[0], mask[1], mask[2], mask[3]}
}

// EncodeFrame encodes a client (masked) frame. Only used by tests and by
// Session.Close for the close frame; the stream itself is read-only.
func EncodeFrame(op Opcode, payload []byte, mask [4]byte) []byte {
	n := len(payload)
	out := make([]byte, 0, 14+n)
	out = append(out, 0x80|byte(op))
	switch {
	case n < 126:
		out = append(out, 0x80|byte(n))
	case n <= 0xFFFF:
		out = append(out, 0x80|126)
		out = binary.BigEndian.AppendUint16(out, uint16(n))
	default:
		out = append(out, 0x80|127)
		out = binary.BigEndian.AppendUint64(out, uint64(n))
	}
	out = append(out, mask[:]...)
	for i, b := range payload {
		out = append(out, b^mask[i%4])
	}
	return out
}

// A frame that ends after its header was read is truncated, not a clean end.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
