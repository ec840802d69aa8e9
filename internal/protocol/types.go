package protocol

import "fmt"

const (
	// Sync marks the start of every valid frame.
	Sync uint32 = 0xDEADBEEF

	// HeaderSize is the fixed header length:
	// sync(4) + type(4) + id(4) + session_time(8) + packet_time(4) + length(4).
	HeaderSize = 28

	// MaxPacketSize is the instrument's maximum payload size.
	MaxPacketSize = 4096
	// MaxMessageLength bounds outgoing operator messages.
	MaxMessageLength = 128
)

// PacketType is the u32 frame type. Values outside the known set are kept
// verbatim and render as UNKNOWN(n).
type PacketType uint32

const (
	TypeAck      PacketType = 0
	TypeMessage  PacketType = 4
	TypeScript   PacketType = 6
	TypeControl  PacketType = 8
	TypeIdentity PacketType = 10
	TypeComplete PacketType = 12
)

var packetTypeNames = map[PacketType]string{
	TypeAck:      "ACK",
	TypeMessage:  "MESSAGE",
	TypeScript:   "SCRIPT",
	TypeControl:  "CONTROL",
	TypeIdentity: "IDENTITY",
	TypeComplete: "COMPLETE",
}

// Known reports whether t is part of the recognized type set.
func (t PacketType) Known() bool {
	_, ok := packetTypeNames[t]
	return ok
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

// ParsePacketType resolves a packet type name such as "ACK".
func ParsePacketType(name string) (PacketType, bool) {
	for t, n := range packetTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// ResponseCode is the ACK status carried by an ACK payload.
type ResponseCode uint32

const (
	ResponseSuccess ResponseCode = iota
	ResponseAborted
	ResponseException
	ResponseInvalidCommand
	ResponseTimeout
	ResponseUnknownError
)

var responseCodeNames = [...]string{
	"SUCCESS",
	"ABORTED",
	"EXCEPTION",
	"INVALID_COMMAND",
	"TIMEOUT",
	"UNKNOWN_ERROR",
}

func (c ResponseCode) Known() bool {
	return int(c) < len(responseCodeNames)
}

func (c ResponseCode) String() string {
	if c.Known() {
		return responseCodeNames[c]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(c))
}

// ControlCode selects the operation of a CONTROL frame.
// 0..2 are the instrument's control-ownership codes; the rest carry
// system commands that have no dedicated packet type.
type ControlCode uint32

const (
	ControlRequest ControlCode = iota
	ControlRelease
	ControlForce
	ControlReset
	ControlCapture
	ControlDisconnect
)

var controlCodeNames = [...]string{
	"REQUEST_CONTROL",
	"RELEASE_CONTROL",
	"FORCE_CONTROL",
	"RESET_SYSTEM",
	"CAPTURE_DATA",
	"DISCONNECT",
}

func (c ControlCode) Known() bool {
	return int(c) < len(controlCodeNames)
}

func (c ControlCode) String() string {
	if c.Known() {
		return controlCodeNames[c]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(c))
}

// ResetMode is the RESET_SYSTEM mode parameter.
type ResetMode uint32

const (
	ResetSoft ResetMode = 0
	ResetHard ResetMode = 1
)

func (m ResetMode) String() string {
	switch m {
	case ResetSoft:
		return "SOFT_RESET"
	case ResetHard:
		return "HARD_RESET"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(m))
	}
}

// LogLevel is the SEND_MESSAGE severity understood by the instrument journal.
type LogLevel uint32

const (
	LogOutput LogLevel = iota
	LogWarning
	LogError
	LogDebug
	LogJournal
)

func (l LogLevel) Known() bool {
	return l <= LogJournal
}

func (l LogLevel) String() string {
	switch l {
	case LogOutput:
		return "OUTPUT"
	case LogWarning:
		return "WARNING"
	case LogError:
		return "ERROR"
	case LogDebug:
		return "DEBUG"
	case LogJournal:
		return "JOURNAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(l))
	}
}
