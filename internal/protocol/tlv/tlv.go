// Package tlv encodes the typed field list carried in command bodies.
//
//	id u16 | type u8 | length u32 | value
//
// Integers and floats are big-endian. Fixed-width types are checked for
// their exact width when a list is decoded, so callers reading a value
// never see a short buffer.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrFieldWidth       = errors.New("tlv: wrong width for field type")
)

// Value type IDs. 1..7 match the shared field contract; 8 and 9 carry
// script parameters.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeF64    uint8 = 8
	TypeI64    uint8 = 9
)

var typeInfo = map[uint8]struct {
	name  string
	width int // 0 for variable width
}{
	TypeU8:     {"u8", 1},
	TypeU16:    {"u16", 2},
	TypeU32:    {"u32", 4},
	TypeU64:    {"u64", 8},
	TypeBool:   {"bool", 1},
	TypeString: {"string", 0},
	TypeBytes:  {"bytes", 0},
	TypeF64:    {"f64", 8},
	TypeI64:    {"i64", 8},
}

// TypeName labels a type ID for messages.
func TypeName(t uint8) string {
	if info, ok := typeInfo[t]; ok {
		return info.name
	}
	return fmt.Sprintf("type(%d)", t)
}

type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

// EncodeFields concatenates fields in order.
func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		var hdr [HeaderLen]byte
		binary.BigEndian.PutUint16(hdr[0:2], f.ID)
		hdr[2] = f.Type
		binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
		out = append(out, hdr[:]...)
		out = append(out, f.Value...)
	}
	return out
}

// DecodeFields parses b into fields in wire order. Unknown type IDs pass
// through unchecked.
func DecodeFields(b []byte) ([]Field, error) {
	var fields []Field
	for off := 0; off < len(b); {
		if len(b)-off < HeaderLen {
			return nil, fmt.Errorf("%w at offset %d", ErrShortFieldHeader, off)
		}
		f := Field{
			ID:   binary.BigEndian.Uint16(b[off : off+2]),
			Type: b[off+2],
		}
		n := binary.BigEndian.Uint32(b[off+3 : off+7])
		off += HeaderLen
		if uint64(len(b)-off) < uint64(n) {
			return nil, fmt.Errorf("%w: field %d declares %d bytes, %d remain", ErrShortFieldValue, f.ID, n, len(b)-off)
		}
		if info, ok := typeInfo[f.Type]; ok && info.width != 0 && int(n) != info.width {
			return nil, fmt.Errorf("%w: field %d %s has %d bytes", ErrFieldWidth, f.ID, info.name, n)
		}
		f.Value = append([]byte(nil), b[off:off+int(n)]...)
		off += int(n)
		fields = append(fields, f)
	}
	return fields, nil
}

func U32(id uint16, v uint32) Field {
	return Field{ID: id, Type: TypeU32, Value: binary.BigEndian.AppendUint32(nil, v)}
}

func I64(id uint16, v int64) Field {
	return Field{ID: id, Type: TypeI64, Value: binary.BigEndian.AppendUint64(nil, uint64(v))}
}

func F64(id uint16, v float64) Field {
	return Field{ID: id, Type: TypeF64, Value: binary.BigEndian.AppendUint64(nil, math.Float64bits(v))}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Bool(id uint16, v bool) Field {
	if v {
		return Field{ID: id, Type: TypeBool, Value: []byte{1}}
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{0}}
}

func checkWidth(b []byte, t uint8) error {
	if want := typeInfo[t].width; len(b) != want {
		return fmt.Errorf("%w: %s has %d bytes", ErrFieldWidth, TypeName(t), len(b))
	}
	return nil
}

func U32FromBytes(b []byte) (uint32, error) {
	if err := checkWidth(b, TypeU32); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func I64FromBytes(b []byte) (int64, error) {
	if err := checkWidth(b, TypeI64); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func F64FromBytes(b []byte) (float64, error) {
	if err := checkWidth(b, TypeF64); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// BoolFromBytes accepts only 0 and 1.
func BoolFromBytes(b []byte) (bool, error) {
	if err := checkWidth(b, TypeBool); err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("tlv: invalid bool value %d", b[0])
	}
}
