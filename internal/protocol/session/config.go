package session

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
)

const (
	DefaultHost = "129.162.153.79"
	DefaultPort = 14670
)

// Config defines link endpoint and transport limits.
type Config struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// ReadQueueDepth bounds frames buffered between the socket reader and
	// ReadNext. A full queue stalls the reader, not the instrument.
	ReadQueueDepth int
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadQueueDepth: 64,
		Limits:         frame.DefaultLimits(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Host) == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadQueueDepth <= 0 {
		c.ReadQueueDepth = d.ReadQueueDepth
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return delphyerr.Configuration(nil, "host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return delphyerr.Configuration(nil, "port %d out of range 1..65535", c.Port)
	}
	return nil
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
