package delphyerr

import "github.com/rs/zerolog"

var categories = map[Kind]string{
	KindConnection:       "connection",
	KindPacket:           "packet",
	KindAcknowledgment:   "ack",
	KindScriptExecution:  "script_execution",
	KindTelemetryTimeout: "telemetry_timeout",
	KindCommand:          "command",
	KindConfiguration:    "configuration",
	KindUnknownResponse:  "unknown_response",
}

// Category is the short label for err's kind, "general" for foreign errors.
func Category(err error) string {
	if c, ok := categories[KindOf(err)]; ok {
		return c
	}
	return "general"
}

// Handle logs err under its category and returns it unchanged.
// It never swallows: callers write `return delphyerr.Handle(log, err)`.
func Handle(logger zerolog.Logger, err error) error {
	if err == nil {
		return nil
	}
	level := zerolog.ErrorLevel
	switch KindOf(err) {
	case KindTelemetryTimeout, KindAcknowledgment:
		level = zerolog.WarnLevel
	}
	logger.WithLevel(level).Str("category", Category(err)).Err(err).Msg("delphy_error")
	return err
}
