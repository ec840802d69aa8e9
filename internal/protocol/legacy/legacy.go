// Package legacy decodes the 16-byte header format used by the older
// instrument test harness. It shares only the sync word with the current
// frame format and is kept separate from it.
//
//	sync u32 | length u16 | type [10]byte (space/NUL padded) | body
package legacy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
)

const (
	HeaderSize  = 16
	typeNameLen = 10

	TypeConfiguration = "CONFIGURATION"
	TypeCapture       = "CAPTURE"
)

var (
	ErrMalformed   = errors.New("legacy: malformed packet")
	ErrIncomplete  = errors.New("legacy: incomplete packet")
	ErrSync        = errors.New("legacy: synchronization error")
	ErrUnknownType = errors.New("legacy: unknown packet type")
)

// Harness status codes reported for parse failures.
const (
	CodeSuccess    = 0
	CodeMalformed  = 1
	CodeIncomplete = 2
	CodeSync       = 3
	CodeUnknown    = 4
)

type Header struct {
	Sync   uint32
	Length uint16
	Type   string
}

type Configuration struct {
	ParameterID uint16
	Value       float32
	Timestamp   uint64
}

type Capture struct {
	FrameID uint16
	Data    []byte
}

// Packet is one decoded legacy packet; exactly one of Configuration or
// Capture is set.
type Packet struct {
	Header        Header
	Configuration *Configuration
	Capture       *Capture
}

// Decode parses one legacy packet. Failures are Packet-kind errors wrapping
// one of the package sentinels.
func Decode(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, delphyerr.Packet(ErrMalformed, "empty legacy packet")
	}
	if len(b) < HeaderSize {
		return Packet{}, delphyerr.Packet(ErrIncomplete, "need %d bytes, got %d", HeaderSize, len(b))
	}
	h := Header{
		Sync:   binary.BigEndian.Uint32(b[0:4]),
		Length: binary.BigEndian.Uint16(b[4:6]),
		Type:   strings.TrimRight(string(b[6:16]), " \x00"),
	}
	if h.Sync != protocol.Sync {
		return Packet{}, delphyerr.Packet(ErrSync, "sync=0x%08X", h.Sync)
	}
	body := b[HeaderSize:]
	if int(h.Length) > len(body) {
		return Packet{}, delphyerr.Packet(ErrIncomplete, "declared body %d bytes, have %d", h.Length, len(body))
	}
	body = body[:h.Length]

	p := Packet{Header: h}
	switch h.Type {
	case wireName(TypeConfiguration):
		c, err := decodeConfiguration(body)
		if err != nil {
			return Packet{}, err
		}
		p.Configuration = &c
	case wireName(TypeCapture):
		c, err := decodeCapture(body)
		if err != nil {
			return Packet{}, err
		}
		p.Capture = &c
	default:
		return Packet{}, delphyerr.Packet(ErrUnknownType, "type %q", h.Type)
	}
	return p, nil
}

func decodeConfiguration(body []byte) (Configuration, error) {
	if len(body) < 14 {
		return Configuration{}, delphyerr.Packet(ErrMalformed, "configuration body %d bytes, need 14", len(body))
	}
	c := Configuration{
		ParameterID: binary.BigEndian.Uint16(body[0:2]),
		Value:       math.Float32frombits(binary.BigEndian.Uint32(body[2:6])),
		Timestamp:   binary.BigEndian.Uint64(body[6:14]),
	}
	if c.Timestamp == 0 {
		return Configuration{}, delphyerr.Packet(ErrMalformed, "configuration timestamp must be positive")
	}
	return c, nil
}

func decodeCapture(body []byte) (Capture, error) {
	if len(body) < 2 {
		return Capture{}, delphyerr.Packet(ErrMalformed, "capture body %d bytes, need frame id", len(body))
	}
	if len(body) == 2 {
		return Capture{}, delphyerr.Packet(ErrMalformed, "empty capture data")
	}
	data := make([]byte, len(body)-2)
	copy(data, body[2:])
	return Capture{FrameID: binary.BigEndian.Uint16(body[0:2]), Data: data}, nil
}

// Code maps a Decode error to the harness status code.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrMalformed):
		return CodeMalformed
	case errors.Is(err, ErrIncomplete):
		return CodeIncomplete
	case errors.Is(err, ErrSync):
		return CodeSync
	default:
		return CodeUnknown
	}
}

// wireName is the type name as it fits the ten-byte header field.
// CONFIGURATION travels as CONFIGURAT.
func wireName(typeName string) string {
	if len(typeName) > typeNameLen {
		return typeName[:typeNameLen]
	}
	return typeName
}

// Encode renders a legacy packet, truncating typeName to the header field.
func Encode(typeName string, body []byte) ([]byte, error) {
	if len(body) > math.MaxUint16 {
		return nil, fmt.Errorf("legacy: body %d bytes exceeds u16 length", len(body))
	}
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], protocol.Sync)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(body)))
	copy(buf[6:16], fmt.Sprintf("%-10s", wireName(typeName)))
	copy(buf[16:], body)
	return buf, nil
}

func EncodeConfiguration(c Configuration) []byte {
	buf := make([]byte, 14)
	binary.BigEndian.PutUint16(buf[0:2], c.ParameterID)
	binary.BigEndian.PutUint32(buf[2:6], math.Float32bits(c.Value))
	binary.BigEndian.PutUint64(buf[6:14], c.Timestamp)
	return buf
}

func EncodeCapture(c Capture) []byte {
	buf := make([]byte, 2+len(c.Data))
	binary.BigEndian.PutUint16(buf[0:2], c.FrameID)
	copy(buf[2:], c.Data)
	return buf
}
