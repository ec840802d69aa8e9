// Package config loads delphyctl settings from TOML.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/logging"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Config is the resolved runtime configuration.
type Config struct {
	Host             string
	Port             int
	ConnectTimeout   time.Duration
	AckTimeout       time.Duration
	CompleteTimeout  time.Duration
	TelemetryTimeout time.Duration
	PollInterval     time.Duration
	MaxPacketSize    uint32
	AdminAddr        string
	ParameterMin     float64
	ParameterMax     float64
	Log              LogConfig
}

type LogConfig struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
}

// Default mirrors the instrument's documented defaults. The script
// parameter range is unbounded until configured.
func Default() Config {
	return Config{
		Host:             session.DefaultHost,
		Port:             session.DefaultPort,
		ConnectTimeout:   10 * time.Second,
		AckTimeout:       10 * time.Second,
		CompleteTimeout:  20 * time.Second,
		TelemetryTimeout: 5 * time.Second,
		PollInterval:     500 * time.Millisecond,
		MaxPacketSize:    protocol.MaxPacketSize,
		ParameterMin:     math.Inf(-1),
		ParameterMax:     math.Inf(1),
		Log: LogConfig{
			Level:     zerolog.InfoLevel,
			Timestamp: true,
		},
	}
}

type fileConfig struct {
	Host             string  `toml:"host"`
	Port             int     `toml:"port"`
	ConnectTimeout   string  `toml:"connect_timeout"`
	AckTimeout       string  `toml:"ack_timeout"`
	CompleteTimeout  string  `toml:"complete_timeout"`
	TelemetryTimeout string  `toml:"telemetry_timeout"`
	PollInterval     string  `toml:"poll_interval"`
	MaxPacketSize    int64   `toml:"max_packet_size"`
	AdminAddr        string  `toml:"admin_addr"`
	ParameterMin     float64 `toml:"parameter_min"`
	ParameterMax     float64 `toml:"parameter_max"`
	Log              fileLog `toml:"log"`
}

type fileLog struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
}

// Load overlays the keys defined in path onto Default and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, delphyerr.Configuration(err, "load %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, delphyerr.Configuration(nil, "unknown key %q in %s", undecoded[0].String(), path)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"ack_timeout", raw.AckTimeout, &cfg.AckTimeout},
		{"complete_timeout", raw.CompleteTimeout, &cfg.CompleteTimeout},
		{"telemetry_timeout", raw.TelemetryTimeout, &cfg.TelemetryTimeout},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, delphyerr.Configuration(err, "parse %s", d.key)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_packet_size") {
		if raw.MaxPacketSize < 0 || raw.MaxPacketSize > math.MaxUint32 {
			return Config{}, delphyerr.Configuration(nil, "max_packet_size %d out of range", raw.MaxPacketSize)
		}
		cfg.MaxPacketSize = uint32(raw.MaxPacketSize)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("parameter_min") {
		cfg.ParameterMin = raw.ParameterMin
	}
	if meta.IsDefined("parameter_max") {
		cfg.ParameterMax = raw.ParameterMax
	}
	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, delphyerr.Configuration(nil, "unknown log.level %q", raw.Log.Level)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values with a Configuration error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return delphyerr.Configuration(nil, "host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return delphyerr.Configuration(nil, "port %d out of range 1..65535", c.Port)
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout},
		{"ack_timeout", c.AckTimeout},
		{"complete_timeout", c.CompleteTimeout},
		{"telemetry_timeout", c.TelemetryTimeout},
		{"poll_interval", c.PollInterval},
	} {
		if d.v <= 0 {
			return delphyerr.Configuration(nil, "%s must be positive, got %s", d.key, d.v)
		}
	}
	if c.MaxPacketSize == 0 || c.MaxPacketSize > protocol.MaxPacketSize {
		return delphyerr.Configuration(nil, "max_packet_size %d out of range 1..%d", c.MaxPacketSize, protocol.MaxPacketSize)
	}
	if math.IsNaN(c.ParameterMin) || math.IsNaN(c.ParameterMax) || c.ParameterMin > c.ParameterMax {
		return delphyerr.Configuration(nil, "parameter range [%v, %v] is empty", c.ParameterMin, c.ParameterMax)
	}
	return nil
}

// ValidateParameter checks a script parameter against [lo, hi].
func ValidateParameter(v, lo, hi float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return delphyerr.Configuration(nil, "parameter %v is not finite", v)
	}
	if v < lo || v > hi {
		return delphyerr.Configuration(nil, "parameter %v outside [%v, %v]", v, lo, hi)
	}
	return nil
}

// SessionConfig projects the link settings.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Host:           c.Host,
		Port:           c.Port,
		ConnectTimeout: c.ConnectTimeout,
		Limits:         frame.Limits{MaxPayloadBytes: c.MaxPacketSize},
	}.WithDefaults()
}

// LoggingConfig projects the [log] table onto the runtime logging profile.
func (c Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	lc.Level = c.Log.Level
	lc.Timestamp = c.Log.Timestamp
	lc.NoColor = c.Log.NoColor
	return lc
}

func (c Config) String() string {
	return fmt.Sprintf("addr=%s ack=%s complete=%s telemetry=%s poll=%s max_packet=%d",
		c.SessionConfig().Address(), c.AckTimeout, c.CompleteTimeout, c.TelemetryTimeout, c.PollInterval, c.MaxPacketSize)
}
