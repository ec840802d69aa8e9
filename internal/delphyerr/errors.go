// Package delphyerr owns the closed DELPHY failure taxonomy.
//
// Every failure surfaced by the codec, transport session, and correlator is
// an *Error carrying one Kind. Callers match broadly with ErrDelphy or
// narrowly with the per-kind sentinels:
//
//	if errors.Is(err, delphyerr.ErrTelemetryTimeout) { ... }
package delphyerr

import (
	"errors"
	"fmt"
)

// Kind is one failure category.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindPacket
	KindAcknowledgment
	KindScriptExecution
	KindTelemetryTimeout
	KindCommand
	KindConfiguration
	KindUnknownResponse
)

// Prefix leads every rendered error message.
const Prefix = "[DELPHY_ERROR]"

var kindNames = map[Kind]string{
	KindConnection:       "Connection Error",
	KindPacket:           "Packet Error",
	KindAcknowledgment:   "ACK Error",
	KindScriptExecution:  "Script Execution Error",
	KindTelemetryTimeout: "Telemetry Timeout",
	KindCommand:          "Command Error",
	KindConfiguration:    "Configuration Error",
	KindUnknownResponse:  "Unknown Response",
}

var kindDefaults = map[Kind]string{
	KindConnection:       "failed to establish or maintain connection with DELPHY interface",
	KindPacket:           "malformed or invalid packet",
	KindAcknowledgment:   "ACK packet was not received or had an invalid response code",
	KindScriptExecution:  "script execution on DELPHY interface failed",
	KindTelemetryTimeout: "telemetry response timeout occurred",
	KindCommand:          "command was invalid or improperly formatted",
	KindConfiguration:    "configuration parameters are invalid or missing",
	KindUnknownResponse:  "received an unknown or unhandled response",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the DELPHY supertype. Err is the optional lower-level cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = kindDefaults[e.Kind]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", Prefix, e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", Prefix, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches ErrDelphy for any kind, and a kind sentinel for the same kind.
func (e *Error) Is(target error) bool {
	if target == ErrDelphy {
		return true
	}
	t, ok := target.(*Error)
	if !ok || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrDelphy matches every *Error.
	ErrDelphy = errors.New("delphy error")

	ErrConnection       = &Error{Kind: KindConnection}
	ErrPacket           = &Error{Kind: KindPacket}
	ErrAcknowledgment   = &Error{Kind: KindAcknowledgment}
	ErrScriptExecution  = &Error{Kind: KindScriptExecution}
	ErrTelemetryTimeout = &Error{Kind: KindTelemetryTimeout}
	ErrCommand          = &Error{Kind: KindCommand}
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrUnknownResponse  = &Error{Kind: KindUnknownResponse}
)

func newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func Connection(cause error, format string, args ...any) error {
	return newf(KindConnection, cause, format, args...)
}

func Packet(cause error, format string, args ...any) error {
	return newf(KindPacket, cause, format, args...)
}

func Acknowledgment(cause error, format string, args ...any) error {
	return newf(KindAcknowledgment, cause, format, args...)
}

func ScriptExecution(cause error, format string, args ...any) error {
	return newf(KindScriptExecution, cause, format, args...)
}

func TelemetryTimeout(cause error, format string, args ...any) error {
	return newf(KindTelemetryTimeout, cause, format, args...)
}

func Command(cause error, format string, args ...any) error {
	return newf(KindCommand, cause, format, args...)
}

func Configuration(cause error, format string, args ...any) error {
	return newf(KindConfiguration, cause, format, args...)
}

func UnknownResponse(cause error, format string, args ...any) error {
	return newf(KindUnknownResponse, cause, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
