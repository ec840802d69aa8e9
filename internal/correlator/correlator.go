// Package correlator pairs issued commands with their ACK and COMPLETE
// telemetry.
//
// Each Execute drives one command through
// IDLE → SENDING → AWAITING_ACK → [AWAITING_COMPLETE] → DONE | FAILED.
// Waiting is a fixed-interval poll of the session with a deadline measured
// from the start of each wait. Frames that do not match the awaited
// response are discarded in arrival order.
package correlator

import (
	"context"
	"time"

	"github.com/danmuck/delphyctl/internal/config"
	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/observability"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/command"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/payload"
	"github.com/danmuck/delphyctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Clock abstracts time for deterministic polling tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

type Timeouts struct {
	Ack       time.Duration
	Complete  time.Duration
	Telemetry time.Duration
	Poll      time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Ack:       10 * time.Second,
		Complete:  20 * time.Second,
		Telemetry: 5 * time.Second,
		Poll:      500 * time.Millisecond,
	}
}

// WithDefaults fills non-positive fields. A zero Ack or Complete wait
// therefore means the default, not "do not wait".
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Ack <= 0 {
		t.Ack = d.Ack
	}
	if t.Complete <= 0 {
		t.Complete = d.Complete
	}
	if t.Telemetry <= 0 {
		t.Telemetry = d.Telemetry
	}
	if t.Poll <= 0 {
		t.Poll = d.Poll
	}
	return t
}

// TimeoutsFromConfig projects the configured waits.
func TimeoutsFromConfig(cfg config.Config) Timeouts {
	return Timeouts{
		Ack:       cfg.AckTimeout,
		Complete:  cfg.CompleteTimeout,
		Telemetry: cfg.TelemetryTimeout,
		Poll:      cfg.PollInterval,
	}.WithDefaults()
}

// Result is the outcome of one Execute.
type Result struct {
	Kind     command.Kind
	PacketID uint32
	State    State
	Ack      payload.Ack
	Complete *payload.Complete
	Elapsed  time.Duration
}

type Option func(*Correlator)

func WithClock(clock Clock) Option {
	return func(c *Correlator) { c.clock = clock }
}

func WithTimeouts(t Timeouts) Option {
	return func(c *Correlator) { c.timeouts = t.WithDefaults() }
}

// WithParameterRange bounds RUN_SCRIPT parameters.
func WithParameterRange(lo, hi float64) Option {
	return func(c *Correlator) { c.paramMin, c.paramMax = lo, hi }
}

type Correlator struct {
	sess     *session.Session
	codec    frame.Codec
	logger   zerolog.Logger
	clock    Clock
	timeouts Timeouts

	paramMin float64
	paramMax float64

	flight inflight
}

func New(sess *session.Session, logger zerolog.Logger, opts ...Option) *Correlator {
	def := config.Default()
	c := &Correlator{
		sess:     sess,
		logger:   logger.With().Str("component", "correlator").Logger(),
		clock:    systemClock{},
		timeouts: DefaultTimeouts(),
		paramMin: def.ParameterMin,
		paramMax: def.ParameterMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.codec = frame.NewCodec(c.logger)
	c.codec.Now = c.clock.Now
	return c
}

// Session exposes the owned session for connect/disconnect by callers.
func (c *Correlator) Session() *session.Session {
	return c.sess
}

func (c *Correlator) Timeouts() Timeouts {
	return c.timeouts
}

// State is the in-flight command's state, IDLE when none.
func (c *Correlator) State() State {
	return c.flight.current()
}

// Last returns the in-flight command or, when idle, the last finished one.
func (c *Correlator) Last() (Pending, bool) {
	return c.flight.snapshot()
}

// awaitsComplete lists the kinds the instrument finishes with COMPLETE.
func awaitsComplete(k command.Kind) bool {
	switch k {
	case command.KindRunScript, command.KindResetSystem, command.KindCaptureData:
		return true
	default:
		return false
	}
}

// Execute sends cmd and waits for its ACK and, for kinds that finish
// asynchronously, its COMPLETE. It never reconnects.
func (c *Correlator) Execute(ctx context.Context, cmd command.Command, t Timeouts) (Result, error) {
	t = t.WithDefaults()
	res := Result{Kind: cmd.Kind, State: StateIdle}
	if !c.sess.Connected() {
		return res, delphyerr.Connection(nil, "%s: not connected to DELPHY", cmd.Kind)
	}
	start := c.clock.Now()
	if err := c.flight.begin(cmd.Kind, start); err != nil {
		return res, err
	}

	err := c.run(ctx, cmd, t, &res)
	p := c.flight.finish(err)
	res.State = p.State
	res.Elapsed = c.clock.Now().Sub(start)

	outcome := "done"
	if err != nil {
		outcome = delphyerr.Category(err)
	}
	observability.RecordCommand(cmd.Kind.String(), outcome, res.Elapsed)
	c.logger.Info().
		Str("kind", cmd.Kind.String()).
		Uint32("packet_id", res.PacketID).
		Str("state", res.State.String()).
		Dur("elapsed", res.Elapsed).
		Msg("command finished")
	return res, err
}

func (c *Correlator) run(ctx context.Context, cmd command.Command, t Timeouts, res *Result) error {
	c.flight.transition(StateSending)
	id := c.sess.NextPacketID()
	res.PacketID = id
	b, err := command.Build(cmd, id, c.sess.SessionTime(), c.codec)
	if err != nil {
		return err
	}
	if err := c.sess.Send(ctx, b); err != nil {
		return err
	}
	sentAt := c.clock.Now()
	c.flight.update(func(p *Pending) {
		p.PacketID = id
		p.SentAt = sentAt
		p.State = StateAwaitingAck
		p.DeadlineAt = sentAt.Add(t.Ack)
	})
	c.logger.Debug().Str("kind", cmd.Kind.String()).Uint32("packet_id", id).Msg("command sent")

	ack, err := c.awaitAck(ctx, id, t)
	if err != nil {
		return err
	}
	res.Ack = ack
	if !ack.Success() {
		return delphyerr.Acknowledgment(nil, "%s id=%d: response %s %q (original_id=%d)", cmd.Kind, id, ack.ResponseCode, ack.Message, ack.OriginalID)
	}
	if !awaitsComplete(cmd.Kind) {
		return nil
	}

	c.flight.update(func(p *Pending) {
		p.State = StateAwaitingComplete
		p.DeadlineAt = c.clock.Now().Add(t.Complete)
	})
	comp, err := c.awaitComplete(ctx, id, t)
	if err != nil {
		return err
	}
	res.Complete = &comp
	if comp.Code != 0 {
		if cmd.Kind == command.KindRunScript {
			return delphyerr.ScriptExecution(nil, "script id=%d: code %d %q", id, comp.Code, comp.Message)
		}
		return delphyerr.Acknowledgment(nil, "%s id=%d: completion code %d %q", cmd.Kind, id, comp.Code, comp.Message)
	}
	return nil
}

// awaitAck matches a SUCCESS ACK by original_id. A malformed ACK, or any
// ACK carrying a failure code, ends the wait whatever id it names.
func (c *Correlator) awaitAck(ctx context.Context, id uint32, t Timeouts) (payload.Ack, error) {
	var ack payload.Ack
	_, err := c.poll(ctx, "ack", t.Ack, t.Poll, func(f frame.Frame) (bool, error) {
		if f.PacketType != protocol.TypeAck {
			return false, nil
		}
		p, err := payload.DecodeTyped(f)
		if err != nil {
			observability.RecordDecodeError("malformed_ack")
			return false, delphyerr.Acknowledgment(err, "malformed ACK packet_id=%d awaiting id=%d", f.PacketID, id)
		}
		a := p.(payload.Ack)
		if a.OriginalID != id && a.Success() {
			return false, nil
		}
		ack = a
		return true, nil
	})
	return ack, err
}

func (c *Correlator) awaitComplete(ctx context.Context, id uint32, t Timeouts) (payload.Complete, error) {
	var comp payload.Complete
	_, err := c.poll(ctx, "complete", t.Complete, t.Poll, func(f frame.Frame) (bool, error) {
		if f.PacketType != protocol.TypeComplete || f.PacketID != id {
			return false, nil
		}
		p, err := payload.DecodeTyped(f)
		if err != nil {
			c.logger.Warn().Err(err).Uint32("packet_id", f.PacketID).Msg("discarding malformed COMPLETE")
			observability.RecordDecodeError("malformed_complete")
			return false, nil
		}
		comp = p.(payload.Complete)
		return true, nil
	})
	return comp, err
}

// poll drains pending frames through match, sleeping interval between
// empty drains, until match accepts one, match fails, or the deadline
// passes. Frames read at or after the deadline are left unmatched. ctx is
// passed to the link but does not end the wait.
func (c *Correlator) poll(ctx context.Context, phase string, timeout, interval time.Duration, match func(frame.Frame) (bool, error)) (frame.Frame, error) {
	start := c.clock.Now()
	deadline := start.Add(timeout)
	for {
		for c.clock.Now().Before(deadline) {
			f, err := c.sess.ReadNext(ctx)
			if err != nil {
				observability.RecordTelemetryWait(phase, "error", c.clock.Now().Sub(start))
				return frame.Frame{}, err
			}
			if f == nil {
				break
			}
			ok, err := match(*f)
			if err != nil {
				observability.RecordTelemetryWait(phase, "rejected", c.clock.Now().Sub(start))
				return *f, err
			}
			if ok {
				observability.RecordTelemetryWait(phase, "matched", c.clock.Now().Sub(start))
				return *f, nil
			}
			c.logger.Debug().
				Str("phase", phase).
				Str("packet_type", f.TypeName()).
				Uint32("packet_id", f.PacketID).
				Msg("discarding unmatched frame")
		}
		now := c.clock.Now()
		if !now.Before(deadline) {
			observability.RecordTelemetryWait(phase, "timeout", now.Sub(start))
			return frame.Frame{}, delphyerr.TelemetryTimeout(nil, "%s not received within %s", phase, timeout)
		}
		c.clock.Sleep(interval)
	}
}
