package main

import (
	"context"
	"time"

	"github.com/danmuck/delphyctl/internal/config"
	"github.com/danmuck/delphyctl/internal/correlator"
	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/logging"
	"github.com/danmuck/delphyctl/internal/observability"
	"github.com/danmuck/delphyctl/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML config file", EnvVars: []string{"DELPHY_CONFIG"}},
		&cli.StringFlag{Name: "host", Usage: "instrument host"},
		&cli.IntFlag{Name: "port", Usage: "instrument port"},
		&cli.DurationFlag{Name: "connect-timeout", Usage: "TCP connect timeout"},
		&cli.DurationFlag{Name: "ack-timeout", Usage: "ACK wait"},
		&cli.DurationFlag{Name: "complete-timeout", Usage: "COMPLETE wait"},
		&cli.DurationFlag{Name: "telemetry-timeout", Usage: "telemetry wait for monitor"},
		&cli.DurationFlag{Name: "poll-interval", Usage: "telemetry poll interval"},
		&cli.StringFlag{Name: "log-level", Usage: "trace|debug|info|warn|error"},
		&cli.BoolFlag{Name: "no-color", Usage: "disable colored log output"},
		&cli.StringSliceFlag{Name: "admin-origin", Usage: "browser origin allowed on the admin server"},
	}
}

// loadConfig resolves defaults, the optional config file, then flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	durations := map[string]*time.Duration{
		"connect-timeout":   &cfg.ConnectTimeout,
		"ack-timeout":       &cfg.AckTimeout,
		"complete-timeout":  &cfg.CompleteTimeout,
		"telemetry-timeout": &cfg.TelemetryTimeout,
		"poll-interval":     &cfg.PollInterval,
	}
	for name, dst := range durations {
		if c.IsSet(name) {
			*dst = c.Duration(name)
		}
	}
	if c.IsSet("log-level") {
		lvl, ok := logging.ParseLevel(c.String("log-level"))
		if !ok {
			return config.Config{}, delphyerr.Configuration(nil, "unknown log level %q", c.String("log-level"))
		}
		cfg.Log.Level = lvl
	}
	if c.IsSet("no-color") {
		cfg.Log.NoColor = c.Bool("no-color")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

type runtime struct {
	cfg     config.Config
	logger  zerolog.Logger
	corr    *correlator.Correlator
	origins []string
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	lc := cfg.LoggingConfig()
	lc.Out = c.App.ErrWriter
	logger := observability.InitLogger("delphyctl", lc)
	observability.RegisterMetrics()

	sess := session.New(session.NewTCPLink(cfg.SessionConfig(), logger), logger)
	corr := correlator.New(sess, logger,
		correlator.WithTimeouts(correlator.TimeoutsFromConfig(cfg)),
		correlator.WithParameterRange(cfg.ParameterMin, cfg.ParameterMax),
	)
	logger.Debug().Str("config", cfg.String()).Msg("runtime ready")
	return &runtime{cfg: cfg, logger: logger, corr: corr, origins: c.StringSlice("admin-origin")}, nil
}

// withSession connects, runs fn, and always disconnects. Failures are
// logged through delphyerr.Handle before being returned.
func (rt *runtime) withSession(ctx context.Context, fn func(ctx context.Context) error) error {
	sess := rt.corr.Session()
	if err := sess.Connect(ctx); err != nil {
		return delphyerr.Handle(rt.logger, err)
	}
	defer sess.Disconnect(ctx)
	if err := fn(ctx); err != nil {
		return delphyerr.Handle(rt.logger, err)
	}
	return nil
}

// startAdmin serves /health and /metrics when addr is set. The returned
// stop func is always safe to call.
func (rt *runtime) startAdmin(addr string, health observability.HealthFunc) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	admin := observability.NewAdminServer("delphyctl", rt.logger, health, rt.origins...)
	if err := admin.Start(addr); err != nil {
		return nil, delphyerr.Configuration(err, "admin listen %s", addr)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = admin.Shutdown(ctx)
	}, nil
}

func (rt *runtime) health() observability.Health {
	sess := rt.corr.Session()
	h := observability.Health{
		Connected: sess.Connected(),
		SessionID: sess.ID(),
		State:     rt.corr.State().String(),
	}
	if st, err := sess.Status(context.Background()); err == nil {
		h.MachineID = st.MachineID
	}
	return h
}
