// Package protocol implements the benchmark wire format: a 4-byte big-endian
// header (type, session id) followed by an opaque payload that runs to the end
// of the datagram.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// HeaderLen is the size of the frame header in bytes.
const HeaderLen = 4

// MaxDatagram is the read buffer size used by both client and server loops.
const MaxDatagram = 131072

// MaxPayload is the largest payload that still fits an IPv4 UDP datagram.
const MaxPayload = 65507 - HeaderLen

// ErrMalformedFrame is returned when a datagram is too short to hold a header.
var ErrMalformedFrame = errors.New("malformed frame")

// Type tells a request from its echo.
type Type uint16

const (
	Request  Type = 0
	Response Type = 1
)

func (t Type) String() string {
	switch t {
	case Request:
		return "request"
	case Response:
		return "response"
	default:
		return fmt.Sprintf("type(%d)", uint16(t))
	}
}

// SessionID correlates a request with its response. It wraps at 65536.
type SessionID uint16

// Frame is one benchmark datagram.
type Frame struct {
	Type      Type
	SessionID SessionID
	Payload   []byte
}

// AppendTo appends the encoded frame to dst and returns the extended buffer.
func (f Frame) AppendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.Type))
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.SessionID))
	return append(dst, f.Payload...)
}

// Len is the encoded size of the frame.
func (f Frame) Len() int {
	return HeaderLen + len(f.Payload)
}

func (f Frame) String() string {
	return fmt.Sprintf("type=%s session=%d payload=%d", f.Type, f.SessionID, len(f.Payload))
}

// Reply builds the response that echoes f.
func (f Frame) Reply() Frame {
	return Frame{Type: Response, SessionID: f.SessionID, Payload: f.Payload}
}

// Encode returns the wire form of f.
func Encode(f Frame) []byte {
	return f.AppendTo(make([]byte, 0, f.Len()))
}

// Decode parses a datagram. The payload is copied, so b may be reused.
func Decode(b []byte) (Frame, error) {
	f, err := DecodeNoCopy(b)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = append([]byte(nil), f.Payload...)
	return f, nil
}

// DecodeNoCopy parses a datagram with a payload aliasing b.
func DecodeNoCopy(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, errors.Wrapf(ErrMalformedFrame, "%d bytes, need %d", len(b), HeaderLen)
	}
	return Frame{
		Type:      Type(binary.BigEndian.Uint16(b[0:2])),
		SessionID: SessionID(binary.BigEndian.Uint16(b[2:4])),
		Payload:   b[HeaderLen:],
	}, nil
}
