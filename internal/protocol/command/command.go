// Package command models operator commands and their wire bodies.
//
// A command body is an ordered TLV list: the command name first, then one
// key field followed by one value field per parameter. CONTROL frames carry
// a u32 control code ahead of the same TLV list.
package command

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/tlv"
)

// Field IDs used in command bodies.
const (
	FieldName  uint16 = 1
	FieldKey   uint16 = 2
	FieldValue uint16 = 3
)

// Kind is the operator-facing command kind.
type Kind uint8

const (
	KindRunScript Kind = iota + 1
	KindSendMessage
	KindResetSystem
	KindControl
	KindCaptureData
	KindDisconnect
)

var kindNames = map[Kind]string{
	KindRunScript:   "RUN_SCRIPT",
	KindSendMessage: "SEND_MESSAGE",
	KindResetSystem: "RESET_SYSTEM",
	KindControl:     "CONTROL",
	KindCaptureData: "CAPTURE_DATA",
	KindDisconnect:  "DISCONNECT",
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// ParseKind accepts RUN_SCRIPT or run-script style names.
func ParseKind(name string) (Kind, bool) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for k, n := range kindNames {
		if n == norm {
			return k, true
		}
	}
	return 0, false
}

// PacketType returns the frame type a command of this kind travels in.
func (k Kind) PacketType() protocol.PacketType {
	switch k {
	case KindRunScript:
		return protocol.TypeScript
	case KindSendMessage:
		return protocol.TypeMessage
	default:
		return protocol.TypeControl
	}
}

// Param is one ordered parameter. Value must be uint32, int64, float64,
// string or bool; int is accepted and encoded as int64.
type Param struct {
	Key   string
	Value any
}

type Command struct {
	Kind   Kind
	Params []Param
}

func New(kind Kind, params ...Param) Command {
	return Command{Kind: kind, Params: params}
}

// Get returns the first parameter named key.
func (c Command) Get(key string) (any, bool) {
	for _, p := range c.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// ControlCode resolves the CONTROL frame code for this command.
func (c Command) ControlCode() (protocol.ControlCode, error) {
	switch c.Kind {
	case KindResetSystem:
		return protocol.ControlReset, nil
	case KindCaptureData:
		return protocol.ControlCapture, nil
	case KindDisconnect:
		return protocol.ControlDisconnect, nil
	case KindControl:
		v, ok := c.Get(ParamControlCode)
		if !ok {
			return 0, delphyerr.Command(nil, "CONTROL requires %s", ParamControlCode)
		}
		code, ok := v.(uint32)
		if !ok || protocol.ControlCode(code) > protocol.ControlForce {
			return 0, delphyerr.Command(nil, "invalid %s %v", ParamControlCode, v)
		}
		return protocol.ControlCode(code), nil
	default:
		return 0, delphyerr.Command(nil, "%s does not travel in a CONTROL frame", c.Kind)
	}
}

// Body encodes the frame payload for c.
func (c Command) Body() ([]byte, error) {
	if !c.Kind.Valid() {
		return nil, delphyerr.Command(nil, "invalid command kind %s", c.Kind)
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	fields := make([]tlv.Field, 0, 1+2*len(c.Params))
	fields = append(fields, tlv.String(FieldName, c.Kind.String()))
	for _, p := range c.Params {
		val, err := valueField(p)
		if err != nil {
			return nil, err
		}
		fields = append(fields, tlv.String(FieldKey, p.Key), val)
	}
	body := tlv.EncodeFields(fields)
	if c.Kind.PacketType() != protocol.TypeControl {
		return body, nil
	}
	code, err := c.ControlCode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(code))
	copy(out[4:], body)
	return out, nil
}

// Build frames c with the given id and session time.
func Build(c Command, packetID uint32, sessionTime float64, codec frame.Codec) ([]byte, error) {
	body, err := c.Body()
	if err != nil {
		return nil, err
	}
	b, err := codec.Encode(c.Kind.PacketType(), packetID, sessionTime, body)
	if err != nil {
		return nil, delphyerr.Command(err, "frame %s", c.Kind)
	}
	return b, nil
}

func valueField(p Param) (tlv.Field, error) {
	switch v := p.Value.(type) {
	case uint32:
		return tlv.U32(FieldValue, v), nil
	case int64:
		return tlv.I64(FieldValue, v), nil
	case int:
		return tlv.I64(FieldValue, int64(v)), nil
	case float64:
		return tlv.F64(FieldValue, v), nil
	case string:
		return tlv.String(FieldValue, v), nil
	case bool:
		return tlv.Bool(FieldValue, v), nil
	default:
		return tlv.Field{}, delphyerr.Command(nil, "parameter %s has unsupported type %T", p.Key, p.Value)
	}
}

// Parse recovers a command from a SCRIPT, MESSAGE or CONTROL frame.
func Parse(f frame.Frame) (Command, error) {
	body := f.Payload
	var kind Kind
	switch f.PacketType {
	case protocol.TypeScript:
		kind = KindRunScript
	case protocol.TypeMessage:
		kind = KindSendMessage
	case protocol.TypeControl:
		if len(body) < 4 {
			return Command{}, delphyerr.Packet(nil, "control body too short: %d bytes", len(body))
		}
		switch code := protocol.ControlCode(binary.BigEndian.Uint32(body[0:4])); code {
		case protocol.ControlRequest, protocol.ControlRelease, protocol.ControlForce:
			kind = KindControl
		case protocol.ControlReset:
			kind = KindResetSystem
		case protocol.ControlCapture:
			kind = KindCaptureData
		case protocol.ControlDisconnect:
			kind = KindDisconnect
		default:
			return Command{}, delphyerr.Command(nil, "unknown control code %s", code)
		}
		body = body[4:]
	default:
		return Command{}, delphyerr.Command(nil, "%s frame does not carry a command", f.TypeName())
	}

	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return Command{}, delphyerr.Packet(err, "%s command body", kind)
	}
	if len(fields) == 0 || fields[0].ID != FieldName || fields[0].Type != tlv.TypeString {
		return Command{}, delphyerr.Command(nil, "%s body missing command name", kind)
	}
	if name := string(fields[0].Value); name != kind.String() {
		return Command{}, delphyerr.Command(nil, "command name %q does not match %s frame", name, f.TypeName())
	}
	rest := fields[1:]
	if len(rest)%2 != 0 {
		return Command{}, delphyerr.Command(nil, "%s parameter list is unpaired", kind)
	}
	cmd := Command{Kind: kind, Params: make([]Param, 0, len(rest)/2)}
	for i := 0; i < len(rest); i += 2 {
		key, val := rest[i], rest[i+1]
		if key.ID != FieldKey || key.Type != tlv.TypeString || val.ID != FieldValue {
			return Command{}, delphyerr.Command(nil, "%s parameter %d is malformed", kind, i/2)
		}
		v, err := decodeValue(val)
		if err != nil {
			return Command{}, delphyerr.Command(err, "%s parameter %s", kind, key.Value)
		}
		cmd.Params = append(cmd.Params, Param{Key: string(key.Value), Value: v})
	}
	return cmd, nil
}

func decodeValue(f tlv.Field) (any, error) {
	switch f.Type {
	case tlv.TypeU32:
		return tlv.U32FromBytes(f.Value)
	case tlv.TypeI64:
		return tlv.I64FromBytes(f.Value)
	case tlv.TypeF64:
		return tlv.F64FromBytes(f.Value)
	case tlv.TypeString:
		return string(f.Value), nil
	case tlv.TypeBool:
		return tlv.BoolFromBytes(f.Value)
	default:
		return nil, fmt.Errorf("unsupported value type %s", tlv.TypeName(f.Type))
	}
}
