package main

import (
	"context"
	"fmt"
	"io"

	"github.com/danmuck/delphyctl/internal/correlator"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/command"
	"github.com/urfave/cli/v2"
)

func printResult(w io.Writer, res correlator.Result) {
	fmt.Fprintf(w, "kind=%s packet_id=%d state=%s ack=%s", res.Kind, res.PacketID, res.State, res.Ack.ResponseCode)
	if res.Complete != nil {
		fmt.Fprintf(w, " complete=%d", res.Complete.Code)
	}
	fmt.Fprintf(w, " elapsed=%s\n", res.Elapsed)
}

// sessionAction wraps a single-command action in connect/disconnect.
func sessionAction(run func(c *cli.Context, rt *runtime, ctx context.Context) (correlator.Result, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		return rt.withSession(c.Context, func(ctx context.Context) error {
			res, err := run(c, rt, ctx)
			if err != nil {
				return err
			}
			printResult(c.App.Writer, res)
			return nil
		})
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect, report diagnostics, and disconnect",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait-identity", Usage: "wait for the IDENTITY frame", Value: true},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			return rt.withSession(c.Context, func(ctx context.Context) error {
				if c.Bool("wait-identity") {
					if _, err := rt.corr.Monitor(ctx, protocol.TypeIdentity, 0); err != nil {
						return err
					}
				}
				d, err := rt.corr.Diagnostics(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "session_id=%s remote=%s machine_id=%d identified=%t session_time=%.3f state=%s\n",
					d.SessionID, d.Remote, d.MachineID, d.HasIdentity, d.SessionTime, d.State)
				return nil
			})
		},
	}
}

func runScriptCommand() *cli.Command {
	return &cli.Command{
		Name:  "run-script",
		Usage: "Run a stored script and wait for completion",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "script-id", Required: true},
			&cli.Float64Flag{Name: "parameter", Required: true},
		},
		Action: sessionAction(func(c *cli.Context, rt *runtime, ctx context.Context) (correlator.Result, error) {
			return rt.corr.RunScript(ctx, uint32(c.Uint("script-id")), c.Float64("parameter"))
		}),
	}
}

func sendMessageCommand() *cli.Command {
	return &cli.Command{
		Name:  "send-message",
		Usage: "Write a message to the instrument journal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "level", Value: "OUTPUT", Usage: "OUTPUT|WARNING|ERROR|DEBUG|JOURNAL"},
			&cli.StringFlag{Name: "message", Required: true},
		},
		Action: sessionAction(func(c *cli.Context, rt *runtime, ctx context.Context) (correlator.Result, error) {
			level, err := parseLogLevel(c.String("level"))
			if err != nil {
				return correlator.Result{}, err
			}
			return rt.corr.SendMessage(ctx, level, c.String("message"))
		}),
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Reset the instrument",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Value: "soft", Usage: "soft|hard"},
			&cli.StringFlag{Name: "reason", Value: "Operator reset"},
		},
		Action: sessionAction(func(c *cli.Context, rt *runtime, ctx context.Context) (correlator.Result, error) {
			mode, err := parseResetMode(c.String("mode"))
			if err != nil {
				return correlator.Result{}, err
			}
			return rt.corr.ResetSystem(ctx, mode, c.String("reason"))
		}),
	}
}

func controlCommand() *cli.Command {
	return &cli.Command{
		Name:  "control",
		Usage: "Request, release or force instrument control",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Value: "request", Usage: "request|release|force"},
		},
		Action: sessionAction(func(c *cli.Context, rt *runtime, ctx context.Context) (correlator.Result, error) {
			code, err := parseControlCode(c.String("code"))
			if err != nil {
				return correlator.Result{}, err
			}
			return rt.corr.RequestControl(ctx, code)
		}),
	}
}

func captureCommand() *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Trigger a data capture",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "frame-id", Usage: "capture frame id"},
		},
		Action: sessionAction(func(c *cli.Context, rt *runtime, ctx context.Context) (correlator.Result, error) {
			var params []command.Param
			if c.IsSet("frame-id") {
				params = append(params, command.Param{Key: command.ParamFrameID, Value: uint32(c.Uint("frame-id"))})
			}
			return rt.corr.CaptureData(ctx, params...)
		}),
	}
}

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Print telemetry frames of one type",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Value: "IDENTITY", Usage: "packet type to wait for"},
			&cli.IntFlag{Name: "count", Value: 1, Usage: "frames to print before exiting"},
			&cli.DurationFlag{Name: "timeout", Usage: "wait per frame (defaults to telemetry_timeout)"},
			&cli.StringFlag{Name: "admin-addr", Usage: "serve /health and /metrics on this address"},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			want, err := parsePacketType(c.String("type"))
			if err != nil {
				return err
			}
			addr := rt.cfg.AdminAddr
			if c.IsSet("admin-addr") {
				addr = c.String("admin-addr")
			}
			stop, err := rt.startAdmin(addr, rt.health)
			if err != nil {
				return err
			}
			defer stop()

			return rt.withSession(c.Context, func(ctx context.Context) error {
				for i := 0; i < c.Int("count"); i++ {
					tm, err := rt.corr.Monitor(ctx, want, c.Duration("timeout"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "id=%d session_time=%.3f %s\n",
						tm.Frame.PacketID, tm.Frame.SessionTime, describePayload(tm.Payload))
				}
				return nil
			})
		},
	}
}

func workflowCommand() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "Connect, run a script, reset, and disconnect",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "script-id", Value: 1},
			&cli.Float64Flag{Name: "parameter", Required: true},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			report, err := rt.corr.FullWorkflow(c.Context, uint32(c.Uint("script-id")), c.Float64("parameter"))
			if err != nil {
				return err
			}
			printResult(c.App.Writer, report.Script)
			printResult(c.App.Writer, report.Reset)
			return nil
		},
	}
}
