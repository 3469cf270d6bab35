package protocol

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cyberinferno/go-tcpsession/utils"
)

// Packet is the payload contract shared by every message kind.
type Packet interface {
	// SessionID returns the session id the packet claims to belong to.
	SessionID() uint32

	// IsValid reports whether the packet satisfies its semantic
	// preconditions, independent of whether it decoded cleanly.
	IsValid() bool
}

// BinaryPacket is a Packet with a fixed, explicit little-endian layout.
type BinaryPacket interface {
	Packet
	encoding.BinaryMarshaler
}

// Connect opens the handshake.
type Connect struct {
	ID uint32 `json:"id"`
}

func (p Connect) SessionID() uint32 { return p.ID }
func (p Connect) IsValid() bool     { return p.ID != 0 }

// ConnectResponse completes the handshake. IsActive is false when the
// server rejected the handshake; the header error code says why.
type ConnectResponse struct {
	ID       uint32 `json:"id"`
	IsActive bool   `json:"ia"`
}

func (p ConnectResponse) SessionID() uint32 { return p.ID }
func (p ConnectResponse) IsValid() bool     { return p.ID != 0 }

// TestRequest asks the peer to echo RequestText.
type TestRequest struct {
	ID          uint32 `json:"id"`
	RequestText string `json:"rq"`
}

func (p TestRequest) SessionID() uint32 { return p.ID }
func (p TestRequest) IsValid() bool     { return p.ID != 0 && p.RequestText != "" }

// TestResponse carries the echoed text.
type TestResponse struct {
	ID           uint32 `json:"id"`
	ResponseText string `json:"rs"`
}

func (p TestResponse) SessionID() uint32 { return p.ID }
func (p TestResponse) IsValid() bool     { return p.ID != 0 && p.ResponseText != "" }

// Disconnect asks the receiver to close the session after Delay seconds.
type Disconnect struct {
	ID    uint32 `json:"id"`
	Delay int    `json:"dl"`
}

func (p Disconnect) SessionID() uint32 { return p.ID }
func (p Disconnect) IsValid() bool     { return p.ID != 0 && p.Delay >= 0 }

// maxDelaySeconds is the largest delay that fits in a time.Duration.
const maxDelaySeconds = int64(math.MaxInt64 / int64(time.Second))

// After returns the delay as a duration. Delays too long for a
// time.Duration saturate at the maximum instead of wrapping negative.
func (p Disconnect) After() time.Duration {
	return SecondsToDuration(p.Delay)
}

// SecondsToDuration converts a wire delay in seconds to a duration,
// saturating at the largest representable duration. Negative input yields 0.
func SecondsToDuration(seconds int) time.Duration {
	switch {
	case seconds <= 0:
		return 0
	case int64(seconds) > maxDelaySeconds:
		return time.Duration(math.MaxInt64)
	default:
		return time.Duration(seconds) * time.Second
	}
}

// PingTagSize is the fixed width of the Tag field in ping packets.
const PingTagSize = 16

const (
	pingRequestSize  = 4 + 4 + 8 + PingTagSize
	pingResponseSize = pingRequestSize + 8
)

// PingRequest is a fixed-layout latency probe.
//
// Layout: SessionID (4) | Sequence (4) | SentAt (8) | Tag (16).
type PingRequest struct {
	ID       uint32
	Sequence uint32
	SentAt   int64 // unix nanoseconds
	Tag      string
}

func (p PingRequest) SessionID() uint32 { return p.ID }
func (p PingRequest) IsValid() bool {
	return p.ID != 0 && p.SentAt > 0 && len(p.Tag) <= PingTagSize
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PingRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, pingRequestSize)
	binary.LittleEndian.PutUint32(b[0:4], p.ID)
	binary.LittleEndian.PutUint32(b[4:8], p.Sequence)
	binary.LittleEndian.PutUint64(b[8:16], uint64(p.SentAt))
	utils.PutFixedLengthString(b[16:16+PingTagSize], p.Tag)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PingRequest) UnmarshalBinary(b []byte) error {
	if len(b) != pingRequestSize {
		return fmt.Errorf("ping request: want %d bytes, got %d", pingRequestSize, len(b))
	}

	p.ID = binary.LittleEndian.Uint32(b[0:4])
	p.Sequence = binary.LittleEndian.Uint32(b[4:8])
	p.SentAt = int64(binary.LittleEndian.Uint64(b[8:16]))
	p.Tag = utils.ReadStringFromBytes(b[16 : 16+PingTagSize])
	return nil
}

// PingResponse echoes a PingRequest and stamps when the server received it.
//
// Layout: SessionID (4) | Sequence (4) | SentAt (8) | Tag (16) | ReceivedAt (8).
type PingResponse struct {
	ID         uint32
	Sequence   uint32
	SentAt     int64
	Tag        string
	ReceivedAt int64
}

func (p PingResponse) SessionID() uint32 { return p.ID }
func (p PingResponse) IsValid() bool {
	return p.ID != 0 && p.SentAt > 0 && p.ReceivedAt > 0 && len(p.Tag) <= PingTagSize
}

// RoundTrip returns the elapsed time between SentAt and now.
func (p PingResponse) RoundTrip(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, p.SentAt))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PingResponse) MarshalBinary() ([]byte, error) {
	b := make([]byte, pingResponseSize)
	binary.LittleEndian.PutUint32(b[0:4], p.ID)
	binary.LittleEndian.PutUint32(b[4:8], p.Sequence)
	binary.LittleEndian.PutUint64(b[8:16], uint64(p.SentAt))
	utils.PutFixedLengthString(b[16:16+PingTagSize], p.Tag)
	binary.LittleEndian.PutUint64(b[32:40], uint64(p.ReceivedAt))
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PingResponse) UnmarshalBinary(b []byte) error {
	if len(b) != pingResponseSize {
		return fmt.Errorf("ping response: want %d bytes, got %d", pingResponseSize, len(b))
	}

	p.ID = binary.LittleEndian.Uint32(b[0:4])
	p.Sequence = binary.LittleEndian.Uint32(b[4:8])
	p.SentAt = int64(binary.LittleEndian.Uint64(b[8:16]))
	p.Tag = utils.ReadStringFromBytes(b[16 : 16+PingTagSize])
	p.ReceivedAt = int64(binary.LittleEndian.Uint64(b[32:40]))
	return nil
}
