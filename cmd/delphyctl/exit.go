package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/urfave/cli/v2"
)

// Process exit codes. Each DELPHY error kind gets its own code so scripts
// can branch on the failure without parsing output.
const (
	exitOK               = 0
	exitGeneral          = 1
	exitConfiguration    = 2
	exitConnection       = 3
	exitAcknowledgment   = 4
	exitScriptExecution  = 5
	exitTelemetryTimeout = 6
	exitPacket           = 7
	exitCommand          = 8
	exitUnknownResponse  = 9
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		return exitCoder.ExitCode()
	}
	switch delphyerr.KindOf(err) {
	case delphyerr.KindConfiguration:
		return exitConfiguration
	case delphyerr.KindConnection:
		return exitConnection
	case delphyerr.KindAcknowledgment:
		return exitAcknowledgment
	case delphyerr.KindScriptExecution:
		return exitScriptExecution
	case delphyerr.KindTelemetryTimeout:
		return exitTelemetryTimeout
	case delphyerr.KindPacket:
		return exitPacket
	case delphyerr.KindCommand:
		return exitCommand
	case delphyerr.KindUnknownResponse:
		return exitUnknownResponse
	default:
		return exitGeneral
	}
}

func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	code := exitCode(err)
	msg := err.Error()
	if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
		fmt.Fprintf(c.App.ErrWriter, "delphyctl: %s\n", msg)
	}
	os.Exit(code)
}
