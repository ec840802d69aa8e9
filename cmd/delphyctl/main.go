// Command delphyctl drives a DELPHY instrument: it encodes and decodes
// frames, issues commands over a live session, watches telemetry, and runs a
// loopback simulator.
//
// Usage:
//
//	delphyctl [global options] <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: unexpected error
//   - 2: configuration error
//   - 3: connection error
//   - 4: ACK error
//   - 5: script execution error
//   - 6: telemetry timeout
//   - 7: packet error
//   - 8: command error
//   - 9: unknown response
package main

import (
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler exits for every error; this is unreachable unless
		// the handler is replaced.
		os.Exit(exitCode(err))
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:           "delphyctl",
		Usage:          "DELPHY command and telemetry endpoint",
		Version:        version,
		Writer:         stdout,
		ErrWriter:      stderr,
		Flags:          globalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			encodeCommand(),
			decodeCommand(),
			connectCommand(),
			runScriptCommand(),
			sendMessageCommand(),
			resetCommand(),
			controlCommand(),
			captureCommand(),
			monitorCommand(),
			workflowCommand(),
			simulateCommand(),
			configCommand(),
			versionCommand(),
		},
	}
}
