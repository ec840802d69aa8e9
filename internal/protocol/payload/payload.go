// Package payload decodes per-type frame bodies.
//
// Dispatch is permissive: types without a dedicated decoder surface as Raw.
// Each typed decoder validates its own minimum shape and reports the
// offending field through *MalformedError.
package payload

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
)

// Payload is the closed set of typed views: Ack, Complete, Identity,
// Control, Raw.
type Payload interface {
	PacketType() protocol.PacketType
	sealed()
}

type Ack struct {
	OriginalID   uint32
	ResponseCode protocol.ResponseCode
	Message      string
}

type Complete struct {
	Code    uint32
	Message string
}

type Identity struct {
	MachineID uint32
}

type Control struct {
	Code    protocol.ControlCode
	Message string
}

// Raw is the forward-compatible fallback for types with no typed decoder.
type Raw struct {
	Type  protocol.PacketType
	Bytes []byte
}

func (Ack) PacketType() protocol.PacketType      { return protocol.TypeAck }
func (Complete) PacketType() protocol.PacketType { return protocol.TypeComplete }
func (Identity) PacketType() protocol.PacketType { return protocol.TypeIdentity }
func (Control) PacketType() protocol.PacketType  { return protocol.TypeControl }
func (r Raw) PacketType() protocol.PacketType    { return r.Type }

func (Ack) sealed()      {}
func (Complete) sealed() {}
func (Identity) sealed() {}
func (Control) sealed()  {}
func (Raw) sealed()      {}

// Success reports whether the ACK carries SUCCESS.
func (a Ack) Success() bool {
	return a.ResponseCode == protocol.ResponseSuccess
}

// MalformedError names the payload kind and field that failed validation.
type MalformedError struct {
	Type   protocol.PacketType
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("payload: malformed %s: field %s: %s", e.Type, e.Field, e.Reason)
}

func malformed(pt protocol.PacketType, field, format string, args ...any) error {
	me := &MalformedError{Type: pt, Field: field, Reason: fmt.Sprintf(format, args...)}
	return delphyerr.Packet(me, "malformed %s payload", pt)
}

// DecodeTyped dispatches on the frame's packet type.
func DecodeTyped(f frame.Frame) (Payload, error) {
	switch f.PacketType {
	case protocol.TypeAck:
		return decodeAck(f.Payload)
	case protocol.TypeComplete:
		return decodeComplete(f.Payload)
	case protocol.TypeIdentity:
		return decodeIdentity(f.Payload)
	case protocol.TypeControl:
		return decodeControl(f.Payload)
	default:
		b := make([]byte, len(f.Payload))
		copy(b, f.Payload)
		return Raw{Type: f.PacketType, Bytes: b}, nil
	}
}

// Expect decodes f for a consumer that requires the given known type.
// Unrecognized frame types and type mismatches are UnknownResponse errors.
func Expect(f frame.Frame, want protocol.PacketType) (Payload, error) {
	if !want.Known() {
		return nil, delphyerr.UnknownResponse(nil, "requested unrecognized packet type %s", want)
	}
	if !f.PacketType.Known() {
		return nil, delphyerr.UnknownResponse(nil, "packet id=%d has unrecognized type %s", f.PacketID, f.TypeName())
	}
	if f.PacketType != want {
		return nil, delphyerr.UnknownResponse(nil, "expected %s, got %s", want, f.TypeName())
	}
	return DecodeTyped(f)
}

// ack: original_id u32 | response_code u32 | message (remaining, utf8)
func decodeAck(b []byte) (Payload, error) {
	if len(b) < 4 {
		return nil, malformed(protocol.TypeAck, "original_id", "need 4 bytes, got %d", len(b))
	}
	if len(b) < 8 {
		return nil, malformed(protocol.TypeAck, "response_code", "need 8 bytes, got %d", len(b))
	}
	msg := b[8:]
	if !utf8.Valid(msg) {
		return nil, malformed(protocol.TypeAck, "message", "invalid utf8")
	}
	return Ack{
		OriginalID:   binary.BigEndian.Uint32(b[0:4]),
		ResponseCode: protocol.ResponseCode(binary.BigEndian.Uint32(b[4:8])),
		Message:      string(msg),
	}, nil
}

// complete: code u32 | message_len u32 | message
func decodeComplete(b []byte) (Payload, error) {
	if len(b) < 4 {
		return nil, malformed(protocol.TypeComplete, "code", "need 4 bytes, got %d", len(b))
	}
	if len(b) < 8 {
		return nil, malformed(protocol.TypeComplete, "message_length", "need 8 bytes, got %d", len(b))
	}
	n := binary.BigEndian.Uint32(b[4:8])
	if uint64(n) != uint64(len(b)-8) {
		return nil, malformed(protocol.TypeComplete, "message", "declared %d bytes, have %d", n, len(b)-8)
	}
	msg := b[8:]
	if !utf8.Valid(msg) {
		return nil, malformed(protocol.TypeComplete, "message", "invalid utf8")
	}
	return Complete{
		Code:    binary.BigEndian.Uint32(b[0:4]),
		Message: string(msg),
	}, nil
}

func decodeIdentity(b []byte) (Payload, error) {
	if len(b) < 4 {
		return nil, malformed(protocol.TypeIdentity, "machine_id", "need 4 bytes, got %d", len(b))
	}
	return Identity{MachineID: binary.BigEndian.Uint32(b[0:4])}, nil
}

// control: control_code u32 | message (remaining)
func decodeControl(b []byte) (Payload, error) {
	if len(b) < 4 {
		return nil, malformed(protocol.TypeControl, "control_code", "need 4 bytes, got %d", len(b))
	}
	msg := b[4:]
	if !utf8.Valid(msg) {
		return nil, malformed(protocol.TypeControl, "message", "invalid utf8")
	}
	return Control{
		Code:    protocol.ControlCode(binary.BigEndian.Uint32(b[0:4])),
		Message: string(msg),
	}, nil
}
