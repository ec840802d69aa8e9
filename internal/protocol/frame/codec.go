package frame

import (
	"time"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/rs/zerolog"
)

// Codec encodes and decodes frames with an injected clock and logger.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	Now    func() time.Time
	Logger zerolog.Logger
	Limits Limits
}

func NewCodec(logger zerolog.Logger) Codec {
	return Codec{
		Now:    time.Now,
		Logger: logger,
		Limits: DefaultLimits(),
	}
}

// Encode frames payload for the wire. packet_time is stamped from the
// codec clock and length is always derived from len(payload).
func (c Codec) Encode(pt protocol.PacketType, packetID uint32, sessionTime float64, payload []byte) ([]byte, error) {
	if !pt.Known() {
		return nil, delphyerr.Packet(ErrInvalidPacketType, "cannot encode %s", pt)
	}
	limits := c.Limits
	if limits.MaxPayloadBytes == 0 {
		limits = DefaultLimits()
	}
	if uint64(len(payload)) > uint64(limits.MaxPayloadBytes) {
		return nil, delphyerr.Packet(ErrPayloadTooLarge, "length=%d max=%d", len(payload), limits.MaxPayloadBytes)
	}
	f := Frame{
		Header: Header{
			PacketType:  pt,
			PacketID:    packetID,
			SessionTime: sessionTime,
			PacketTime:  PacketTime(c.now()),
		},
		Payload: payload,
	}
	b := Marshal(f)
	c.Logger.Debug().
		Str("packet_type", pt.String()).
		Uint32("packet_id", packetID).
		Int("length", len(payload)).
		Msg("frame encoded")
	return b, nil
}

// Decode parses b and logs the outcome.
func (c Codec) Decode(b []byte) (Frame, error) {
	f, err := Decode(b)
	if err != nil {
		c.Logger.Warn().Err(err).Int("bytes", len(b)).Msg("frame decode failed")
		return Frame{}, err
	}
	c.Logger.Debug().
		Str("packet_type", f.TypeName()).
		Uint32("packet_id", f.PacketID).
		Uint32("length", f.Length).
		Msg("frame decoded")
	return f, nil
}

func (c Codec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// PacketTime is the wall-clock stamp carried in the header: seconds into the
// UTC day, which fits a float32 with millisecond-order resolution.
func PacketTime(t time.Time) float32 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return float32(t.Sub(midnight).Seconds())
}
