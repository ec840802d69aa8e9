package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
)

var (
	ErrTooShort          = errors.New("frame: shorter than fixed header")
	ErrInvalidSync       = errors.New("frame: invalid sync word")
	ErrLengthMismatch    = errors.New("frame: declared length does not match payload")
	ErrInvalidPacketType = errors.New("frame: invalid packet type")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
)

// Header is the fixed 28-byte wire header.
type Header struct {
	Sync        uint32
	PacketType  protocol.PacketType
	PacketID    uint32
	SessionTime float64
	PacketTime  float32
	Length      uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header
	Payload []byte
}

// TypeName is the display label, UNKNOWN(n) for unrecognized types.
func (f Frame) TypeName() string {
	return f.PacketType.String()
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: protocol.MaxPacketSize}
}

// Marshal writes f with Sync and Length recomputed from the payload.
func Marshal(f Frame) []byte {
	h := f.Header
	h.Sync = protocol.Sync
	h.Length = uint32(len(f.Payload))
	buf := make([]byte, protocol.HeaderSize+len(f.Payload))
	putHeader(buf, h)
	copy(buf[protocol.HeaderSize:], f.Payload)
	return buf
}

// Decode parses one complete frame from b.
// Header integrity is strict; unknown packet types are accepted.
func Decode(b []byte) (Frame, error) {
	if len(b) < protocol.HeaderSize {
		return Frame{}, delphyerr.Packet(ErrTooShort, "got %d bytes, need %d", len(b), protocol.HeaderSize)
	}
	h := parseHeader(b[:protocol.HeaderSize])
	if h.Sync != protocol.Sync {
		return Frame{}, delphyerr.Packet(ErrInvalidSync, "sync=0x%08X", h.Sync)
	}
	remaining := len(b) - protocol.HeaderSize
	if uint64(h.Length) != uint64(remaining) {
		return Frame{}, delphyerr.Packet(ErrLengthMismatch, "declared=%d actual=%d", h.Length, remaining)
	}
	payload := make([]byte, remaining)
	copy(payload, b[protocol.HeaderSize:])
	return Frame{Header: h, Payload: payload}, nil
}

// ReadFrame reads exactly one frame from a byte stream.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [protocol.HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, delphyerr.Packet(ErrTooShort, "stream ended inside header")
		}
		return Frame{}, err
	}
	h := parseHeader(fixed[:])
	if h.Sync != protocol.Sync {
		return Frame{}, delphyerr.Packet(ErrInvalidSync, "sync=0x%08X", h.Sync)
	}
	if limits.MaxPayloadBytes > 0 && h.Length > limits.MaxPayloadBytes {
		return Frame{}, delphyerr.Packet(ErrPayloadTooLarge, "length=%d max=%d", h.Length, limits.MaxPayloadBytes)
	}
	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, delphyerr.Packet(ErrLengthMismatch, "declared=%d: %v", h.Length, err)
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Sync)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.PacketType))
	binary.BigEndian.PutUint32(buf[8:12], h.PacketID)
	binary.BigEndian.PutUint64(buf[12:20], math.Float64bits(h.SessionTime))
	binary.BigEndian.PutUint32(buf[20:24], math.Float32bits(h.PacketTime))
	binary.BigEndian.PutUint32(buf[24:28], h.Length)
}

func parseHeader(b []byte) Header {
	return Header{
		Sync:        binary.BigEndian.Uint32(b[0:4]),
		PacketType:  protocol.PacketType(binary.BigEndian.Uint32(b[4:8])),
		PacketID:    binary.BigEndian.Uint32(b[8:12]),
		SessionTime: math.Float64frombits(binary.BigEndian.Uint64(b[12:20])),
		PacketTime:  math.Float32frombits(binary.BigEndian.Uint32(b[20:24])),
		Length:      binary.BigEndian.Uint32(b[24:28]),
	}
}

func (h Header) String() string {
	return fmt.Sprintf("type=%s id=%d session_time=%.3f packet_time=%.3f length=%d",
		h.PacketType, h.PacketID, h.SessionTime, h.PacketTime, h.Length)
}

// Reason is a short metrics label for a decode failure.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrInvalidSync):
		return "invalid_sync"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrInvalidPacketType):
		return "invalid_packet_type"
	default:
		return "other"
	}
}
