package correlator

import (
	"context"
	"time"

	"github.com/danmuck/delphyctl/internal/config"
	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/command"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/payload"
)

// RunScript runs a stored script and waits for ACK then COMPLETE.
func (c *Correlator) RunScript(ctx context.Context, scriptID uint32, parameter float64) (Result, error) {
	if err := config.ValidateParameter(parameter, c.paramMin, c.paramMax); err != nil {
		return Result{Kind: command.KindRunScript}, err
	}
	return c.Execute(ctx, command.RunScript(scriptID, parameter), c.timeouts)
}

// SendMessage writes to the instrument journal; only the ACK is awaited.
func (c *Correlator) SendMessage(ctx context.Context, level protocol.LogLevel, text string) (Result, error) {
	return c.Execute(ctx, command.SendMessage(level, text), c.timeouts)
}

func (c *Correlator) ResetSystem(ctx context.Context, mode protocol.ResetMode, reason string) (Result, error) {
	return c.Execute(ctx, command.ResetSystem(mode, reason), c.timeouts)
}

// RequestControl issues one of the control ownership codes.
func (c *Correlator) RequestControl(ctx context.Context, code protocol.ControlCode) (Result, error) {
	return c.Execute(ctx, command.Control(code), c.timeouts)
}

func (c *Correlator) CaptureData(ctx context.Context, params ...command.Param) (Result, error) {
	return c.Execute(ctx, command.CaptureData(params...), c.timeouts)
}

// RequestDisconnect asks the instrument to end the session. The local
// session stays connected until Disconnect.
func (c *Correlator) RequestDisconnect(ctx context.Context) (Result, error) {
	return c.Execute(ctx, command.Disconnect(), c.timeouts)
}

// Telemetry is one frame returned by Monitor.
type Telemetry struct {
	Frame   frame.Frame
	Payload payload.Payload
}

// Monitor waits for the first frame of packet type want. Earlier frames of
// other types are discarded. A non-positive timeout uses the telemetry
// default.
func (c *Correlator) Monitor(ctx context.Context, want protocol.PacketType, timeout time.Duration) (Telemetry, error) {
	if !want.Known() {
		return Telemetry{}, delphyerr.UnknownResponse(nil, "cannot monitor unrecognized packet type %s", want)
	}
	if !c.sess.Connected() {
		return Telemetry{}, delphyerr.Connection(nil, "monitor %s: not connected to DELPHY", want)
	}
	if timeout <= 0 {
		timeout = c.timeouts.Telemetry
	}
	f, err := c.poll(ctx, "monitor", timeout, c.timeouts.Poll, func(f frame.Frame) (bool, error) {
		return f.PacketType == want, nil
	})
	if err != nil {
		return Telemetry{}, err
	}
	p, err := payload.Expect(f, want)
	if err != nil {
		return Telemetry{}, err
	}
	c.logger.Info().Str("packet_type", f.TypeName()).Uint32("packet_id", f.PacketID).Msg("telemetry received")
	return Telemetry{Frame: f, Payload: p}, nil
}

// Diagnostics is a point-in-time view of the endpoint.
type Diagnostics struct {
	SessionID   string
	Connected   bool
	Remote      string
	MachineID   uint32
	HasIdentity bool
	SessionTime float64
	State       State
	Last        *Pending
}

func (c *Correlator) Diagnostics(ctx context.Context) (Diagnostics, error) {
	if !c.sess.Connected() {
		return Diagnostics{}, delphyerr.Connection(nil, "diagnostics: not connected to DELPHY")
	}
	st, err := c.sess.Status(ctx)
	if err != nil {
		return Diagnostics{}, delphyerr.Connection(err, "diagnostics status")
	}
	d := Diagnostics{
		SessionID:   c.sess.ID(),
		Connected:   st.Connected,
		Remote:      st.Remote,
		MachineID:   st.MachineID,
		HasIdentity: st.HasIdentity,
		SessionTime: c.sess.SessionTime(),
		State:       c.State(),
	}
	if p, ok := c.Last(); ok {
		d.Last = &p
	}
	c.logger.Info().
		Str("session_id", d.SessionID).
		Bool("connected", d.Connected).
		Uint32("machine_id", d.MachineID).
		Str("state", d.State.String()).
		Msg("diagnostics")
	return d, nil
}

// WorkflowReport records what FullWorkflow reached.
type WorkflowReport struct {
	Script Result
	Reset  Result
}

// FullWorkflow connects, runs one script to completion, resets the system,
// and always disconnects. The first failure stops the sequence and is
// returned after being logged through delphyerr.Handle.
func (c *Correlator) FullWorkflow(ctx context.Context, scriptID uint32, parameter float64) (WorkflowReport, error) {
	var report WorkflowReport
	defer c.sess.Disconnect(ctx)

	if err := c.sess.Connect(ctx); err != nil {
		return report, delphyerr.Handle(c.logger, err)
	}
	res, err := c.RunScript(ctx, scriptID, parameter)
	report.Script = res
	if err != nil {
		return report, delphyerr.Handle(c.logger, err)
	}
	res, err = c.ResetSystem(ctx, protocol.ResetSoft, "End of Workflow")
	report.Reset = res
	if err != nil {
		return report, delphyerr.Handle(c.logger, err)
	}
	c.logger.Info().
		Uint32("script_id", scriptID).
		Float64("parameter", parameter).
		Msg("workflow complete")
	return report, nil
}
