package config

import (
	"fmt"
	"math"
	"os"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/pelletier/go-toml/v2"
)

type templateFile struct {
	Host             string      `toml:"host"`
	Port             int         `toml:"port"`
	ConnectTimeout   string      `toml:"connect_timeout"`
	AckTimeout       string      `toml:"ack_timeout"`
	CompleteTimeout  string      `toml:"complete_timeout"`
	TelemetryTimeout string      `toml:"telemetry_timeout"`
	PollInterval     string      `toml:"poll_interval"`
	MaxPacketSize    uint32      `toml:"max_packet_size"`
	AdminAddr        string      `toml:"admin_addr,omitempty"`
	ParameterMin     *float64    `toml:"parameter_min,omitempty"`
	ParameterMax     *float64    `toml:"parameter_max,omitempty"`
	Log              templateLog `toml:"log"`
}

type templateLog struct {
	Level     string `toml:"level"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
}

// Template renders cfg as a TOML file that Load reads back to the same
// values. Unbounded parameter limits are omitted.
func Template(cfg Config) ([]byte, error) {
	tf := templateFile{
		Host:             cfg.Host,
		Port:             cfg.Port,
		ConnectTimeout:   cfg.ConnectTimeout.String(),
		AckTimeout:       cfg.AckTimeout.String(),
		CompleteTimeout:  cfg.CompleteTimeout.String(),
		TelemetryTimeout: cfg.TelemetryTimeout.String(),
		PollInterval:     cfg.PollInterval.String(),
		MaxPacketSize:    cfg.MaxPacketSize,
		AdminAddr:        cfg.AdminAddr,
		Log: templateLog{
			Level:     cfg.Log.Level.String(),
			Timestamp: cfg.Log.Timestamp,
			NoColor:   cfg.Log.NoColor,
		},
	}
	if !math.IsInf(cfg.ParameterMin, 0) {
		v := cfg.ParameterMin
		tf.ParameterMin = &v
	}
	if !math.IsInf(cfg.ParameterMax, 0) {
		v := cfg.ParameterMax
		tf.ParameterMax = &v
	}
	out, err := toml.Marshal(tf)
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return out, nil
}

// WriteTemplate writes the default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return delphyerr.Configuration(nil, "config already exists: %s", path)
		}
	}
	out, err := Template(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
