// Package protocol defines the wire format shared by the server and client:
// the fixed-size frame header, body-type discriminators, error codes, the
// packet contract and the binary and text payload codecs.
//
// Every message on the wire is a Header immediately followed by exactly
// Header.Length payload bytes. All integers are little-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the encoded size of a Header in bytes.
const HeaderSize = 12

// MaxPayloadLength is the largest payload a header may announce. Servers can
// enforce a smaller limit through configuration.
const MaxPayloadLength = 1 << 20

// BodyType identifies which packet kind follows a header.
type BodyType uint16

const (
	BodyTypeNone BodyType = iota
	BodyTypeConnect
	BodyTypeConnectResponse
	BodyTypeTestRequest
	BodyTypeTestResponse
	BodyTypeDisconnect
	BodyTypePingRequest
	BodyTypePingResponse
)

// MaxBodyType is the highest discriminator a header may carry. Values in
// (PingResponse, MaxBodyType] are well framed but have no built-in handler.
const MaxBodyType BodyType = 0x0FFF

// String returns a human-readable name for the body type.
func (b BodyType) String() string {
	switch b {
	case BodyTypeNone:
		return "NONE"
	case BodyTypeConnect:
		return "CONNECT"
	case BodyTypeConnectResponse:
		return "CONNECT_RESPONSE"
	case BodyTypeTestRequest:
		return "TEST_REQUEST"
	case BodyTypeTestResponse:
		return "TEST_RESPONSE"
	case BodyTypeDisconnect:
		return "DISCONNECT"
	case BodyTypePingRequest:
		return "PING_REQUEST"
	case BodyTypePingResponse:
		return "PING_RESPONSE"
	default:
		return fmt.Sprintf("BODY_TYPE_%d", uint16(b))
	}
}

// Header is the fixed-size preamble of every frame.
//
// Layout: SessionID (4) | BodyType (2) | Length (4) | Error (2).
type Header struct {
	SessionID uint32
	BodyType  BodyType
	Length    uint32
	Error     ErrorCode
}

// PutHeader packs h into dst, which must be at least HeaderSize bytes long.
//
// Parameters:
//   - dst: Destination buffer (len >= HeaderSize)
//   - h: The header to encode
func PutHeader(dst []byte, h Header) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.SessionID)
	binary.LittleEndian.PutUint16(dst[4:6], uint16(h.BodyType))
	binary.LittleEndian.PutUint32(dst[6:10], h.Length)
	binary.LittleEndian.PutUint16(dst[10:12], uint16(h.Error))
}

// EncodeHeader returns a freshly allocated HeaderSize-byte encoding of h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of b. It never mutates b,
// so decoding the same bytes twice yields the same Header.
//
// Parameters:
//   - b: Buffer holding at least HeaderSize bytes
//
// Returns:
//   - The decoded Header
//   - An error wrapping ErrInvalidHeader if b is short or the body type or
//     length are out of range
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(b))
	}

	h := Header{
		SessionID: binary.LittleEndian.Uint32(b[0:4]),
		BodyType:  BodyType(binary.LittleEndian.Uint16(b[4:6])),
		Length:    binary.LittleEndian.Uint32(b[6:10]),
		Error:     ErrorCode(binary.LittleEndian.Uint16(b[10:12])),
	}

	if err := h.Validate(); err != nil {
		return Header{}, err
	}

	return h, nil
}

// Validate checks that the body type and length are within the protocol
// limits.
func (h Header) Validate() error {
	if h.BodyType == BodyTypeNone || h.BodyType > MaxBodyType {
		return fmt.Errorf("%w: body type %d out of range", ErrInvalidHeader, uint16(h.BodyType))
	}

	if h.Length > MaxPayloadLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidHeader, h.Length, MaxPayloadLength)
	}

	return nil
}
