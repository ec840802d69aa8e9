package payload

import (
	"encoding/binary"

	"github.com/danmuck/delphyctl/internal/protocol"
)

// Encode renders a typed payload body. Raw bodies are copied verbatim.
func Encode(p Payload) []byte {
	switch v := p.(type) {
	case Ack:
		buf := make([]byte, 8+len(v.Message))
		binary.BigEndian.PutUint32(buf[0:4], v.OriginalID)
		binary.BigEndian.PutUint32(buf[4:8], uint32(v.ResponseCode))
		copy(buf[8:], v.Message)
		return buf
	case Complete:
		buf := make([]byte, 8+len(v.Message))
		binary.BigEndian.PutUint32(buf[0:4], v.Code)
		binary.BigEndian.PutUint32(buf[4:8], uint32(len(v.Message)))
		copy(buf[8:], v.Message)
		return buf
	case Identity:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, v.MachineID)
		return buf
	case Control:
		return EncodeControl(v.Code, []byte(v.Message))
	case Raw:
		buf := make([]byte, len(v.Bytes))
		copy(buf, v.Bytes)
		return buf
	default:
		return nil
	}
}

// EncodeControl prefixes body with a control code.
func EncodeControl(code protocol.ControlCode, body []byte) []byte {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(code))
	copy(buf[4:], body)
	return buf
}
