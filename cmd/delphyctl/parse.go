package main

import (
	"strconv"
	"strings"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
)

func parsePacketType(raw string) (protocol.PacketType, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if pt, ok := protocol.ParsePacketType(name); ok {
		return pt, nil
	}
	if n, err := strconv.ParseUint(name, 10, 32); err == nil {
		return protocol.PacketType(n), nil
	}
	return 0, delphyerr.Configuration(nil, "unknown packet type %q", raw)
}

func parseLogLevel(raw string) (protocol.LogLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for l := protocol.LogOutput; l.Known(); l++ {
		if l.String() == name {
			return l, nil
		}
	}
	return 0, delphyerr.Configuration(nil, "unknown message level %q", raw)
}

func parseResetMode(raw string) (protocol.ResetMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "soft", "0":
		return protocol.ResetSoft, nil
	case "hard", "1":
		return protocol.ResetHard, nil
	default:
		return 0, delphyerr.Configuration(nil, "reset mode must be soft or hard, got %q", raw)
	}
}

// parseControlCode accepts the ownership codes only; reset, capture and
// disconnect have their own subcommands.
func parseControlCode(raw string) (protocol.ControlCode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "request", "0":
		return protocol.ControlRequest, nil
	case "release", "1":
		return protocol.ControlRelease, nil
	case "force", "2":
		return protocol.ControlForce, nil
	default:
		return 0, delphyerr.Configuration(nil, "control code must be request, release or force, got %q", raw)
	}
}
