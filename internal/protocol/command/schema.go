package command

import (
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/tlv"
)

// Parameter keys understood by the instrument.
const (
	ParamScriptID    = "SCRIPT_ID"
	ParamParameter   = "PARAMETER"
	ParamLogLevel    = "LOG_LEVEL"
	ParamMessage     = "MESSAGE"
	ParamResetMode   = "RESET_MODE"
	ParamResetReason = "RESET_REASON"
	ParamControlCode = "CONTROL_CODE"
	ParamFrameID     = "FRAME_ID"
)

type Requirement struct {
	Key  string
	Type uint8
}

type ValidationError struct {
	Kind   Kind
	Key    string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("command: %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("command: %s param=%s: %s", e.Kind, e.Key, e.Reason)
}

var requirements = map[Kind][]Requirement{
	KindRunScript: {
		{ParamScriptID, tlv.TypeU32},
		{ParamParameter, tlv.TypeF64},
	},
	KindSendMessage: {
		{ParamLogLevel, tlv.TypeU32},
		{ParamMessage, tlv.TypeString},
	},
	KindResetSystem: {
		{ParamResetMode, tlv.TypeU32},
		{ParamResetReason, tlv.TypeString},
	},
	KindControl: {
		{ParamControlCode, tlv.TypeU32},
	},
	KindCaptureData: {},
	KindDisconnect:  {},
}

// Validate enforces required parameters and their value types for c.Kind.
// Extra parameters are carried through untouched.
func Validate(c Command) error {
	reqs, ok := requirements[c.Kind]
	if !ok {
		return invalid(ValidationError{Kind: c.Kind, Reason: "unknown command kind"})
	}
	for _, req := range reqs {
		v, found := c.Get(req.Key)
		if !found {
			return invalid(ValidationError{Kind: c.Kind, Key: req.Key, Reason: "missing required parameter"})
		}
		if valueType(v) != req.Type {
			return invalid(ValidationError{Kind: c.Kind, Key: req.Key, Reason: fmt.Sprintf("type mismatch: %T", v)})
		}
	}
	if c.Kind == KindSendMessage {
		msg, _ := c.Get(ParamMessage)
		if n := utf8.RuneCountInString(msg.(string)); n > protocol.MaxMessageLength {
			return invalid(ValidationError{Kind: c.Kind, Key: ParamMessage, Reason: fmt.Sprintf("length %d exceeds %d", n, protocol.MaxMessageLength)})
		}
		level, _ := c.Get(ParamLogLevel)
		if !protocol.LogLevel(level.(uint32)).Known() {
			return invalid(ValidationError{Kind: c.Kind, Key: ParamLogLevel, Reason: "unknown log level"})
		}
	}
	if c.Kind == KindResetSystem {
		mode, _ := c.Get(ParamResetMode)
		if m := protocol.ResetMode(mode.(uint32)); m != protocol.ResetSoft && m != protocol.ResetHard {
			return invalid(ValidationError{Kind: c.Kind, Key: ParamResetMode, Reason: "unknown reset mode"})
		}
	}
	return nil
}

func invalid(ve ValidationError) error {
	return delphyerr.Command(ve, "invalid %s", ve.Kind)
}

func valueType(v any) uint8 {
	switch v.(type) {
	case uint32:
		return tlv.TypeU32
	case int64, int:
		return tlv.TypeI64
	case float64:
		return tlv.TypeF64
	case string:
		return tlv.TypeString
	case bool:
		return tlv.TypeBool
	default:
		return 0
	}
}

func RunScript(scriptID uint32, parameter float64) Command {
	return New(KindRunScript, Param{ParamScriptID, scriptID}, Param{ParamParameter, parameter})
}

func SendMessage(level protocol.LogLevel, message string) Command {
	return New(KindSendMessage, Param{ParamLogLevel, uint32(level)}, Param{ParamMessage, message})
}

func ResetSystem(mode protocol.ResetMode, reason string) Command {
	return New(KindResetSystem, Param{ParamResetMode, uint32(mode)}, Param{ParamResetReason, reason})
}

func Control(code protocol.ControlCode) Command {
	return New(KindControl, Param{ParamControlCode, uint32(code)})
}

func CaptureData(params ...Param) Command {
	return New(KindCaptureData, params...)
}

func Disconnect() Command {
	return New(KindDisconnect)
}
