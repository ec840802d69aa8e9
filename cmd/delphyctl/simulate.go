package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/delphyctl/internal/config"
	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/observability"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/simulator"
	"github.com/urfave/cli/v2"
)

func simulateCommand() *cli.Command {
	def := simulator.DefaultConfig()
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run a loopback DELPHY instrument until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: def.ListenAddr},
			&cli.UintFlag{Name: "machine-id", Value: uint(def.MachineID)},
			&cli.UintFlag{Name: "ack-code", Usage: "response code sent in every ACK"},
			&cli.UintFlag{Name: "complete-code", Usage: "code sent in every COMPLETE"},
			&cli.DurationFlag{Name: "complete-delay", Usage: "delay between ACK and COMPLETE"},
			&cli.BoolFlag{Name: "mute", Usage: "never reply to commands"},
			&cli.StringFlag{Name: "admin-addr", Usage: "serve /health and /metrics on this address"},
		},
		Action: simulateAction,
	}
}

func simulateAction(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	cfg := simulator.DefaultConfig()
	cfg.ListenAddr = c.String("listen")
	cfg.MachineID = uint32(c.Uint("machine-id"))
	cfg.AckCode = protocol.ResponseCode(c.Uint("ack-code"))
	cfg.CompleteCode = uint32(c.Uint("complete-code"))
	cfg.CompleteDelay = c.Duration("complete-delay")
	cfg.Mute = c.Bool("mute")
	cfg.Limits = rt.cfg.SessionConfig().Limits
	if !cfg.AckCode.Known() {
		return delphyerr.Configuration(nil, "ack code %d is not a known response code", uint32(cfg.AckCode))
	}

	sim := simulator.New(cfg, rt.logger)
	if err := sim.Start(); err != nil {
		return delphyerr.Connection(err, "simulator listen %s", cfg.ListenAddr)
	}
	defer sim.Close()

	stop, err := rt.startAdmin(c.String("admin-addr"), func() observability.Health {
		return observability.Health{Connected: true, MachineID: cfg.MachineID, State: "SIMULATING"}
	})
	if err != nil {
		return err
	}
	defer stop()

	fmt.Fprintf(c.App.Writer, "simulator listening on %s\n", sim.Addr())
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	rt.logger.Info().Int("commands", len(sim.Received())).Msg("simulator stopping")
	return nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration helpers",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a default config file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Value: "delphy.toml"},
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					path := c.String("path")
					if err := config.WriteTemplate(path, c.Bool("force")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the resolved configuration",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					out, err := config.Template(cfg)
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(out)
					return err
				},
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "delphyctl %s\n", version)
			return nil
		},
	}
}
