package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/command"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/payload"
	"github.com/danmuck/delphyctl/internal/protocol/session"
	"github.com/danmuck/delphyctl/internal/testutil/testlog"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  int
	step    time.Duration
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

// Now advances the clock by step after each reading.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

type fixture struct {
	link  *session.MemoryLink
	sess  *session.Session
	clock *fakeClock
	c     *Correlator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := testlog.Start(t)
	clock := newFakeClock()
	link := session.NewMemoryLink()
	sess := session.New(link, logger, session.WithClock(clock.Now))
	opts = append([]Option{WithClock(clock)}, opts...)
	return &fixture{link: link, sess: sess, clock: clock, c: New(sess, logger, opts...)}
}

func (fx *fixture) connect(t *testing.T) {
	t.Helper()
	if err := fx.sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func ackFrame(originalID uint32, code protocol.ResponseCode) frame.Frame {
	body := payload.Encode(payload.Ack{OriginalID: originalID, ResponseCode: code, Message: code.String()})
	return frame.Frame{Header: frame.Header{PacketType: protocol.TypeAck, PacketID: 1000 + originalID, Length: uint32(len(body))}, Payload: body}
}

func completeFrame(id uint32, code uint32) frame.Frame {
	body := payload.Encode(payload.Complete{Code: code, Message: "finished"})
	return frame.Frame{Header: frame.Header{PacketType: protocol.TypeComplete, PacketID: id, Length: uint32(len(body))}, Payload: body}
}

// respond answers every command with an ACK carrying ackCode and, when
// completeCode is non-nil, a COMPLETE.
func (fx *fixture) respond(ackCode protocol.ResponseCode, completeCode *uint32) {
	fx.link.OnSend = func(b []byte) {
		f, err := frame.Decode(b)
		if err != nil {
			return
		}
		fx.link.Push(ackFrame(f.PacketID, ackCode))
		if completeCode != nil {
			fx.link.Push(completeFrame(f.PacketID, *completeCode))
		}
	}
}

func u32(v uint32) *uint32 { return &v }

func sentFrames(t *testing.T, link *session.MemoryLink) []frame.Frame {
	t.Helper()
	var out []frame.Frame
	for _, b := range link.Sent() {
		f, err := frame.Decode(b)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		out = append(out, f)
	}
	return out
}

func TestRunScriptAckThenComplete(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t)
	fx.respond(protocol.ResponseSuccess, u32(0))

	res, err := fx.c.RunScript(context.Background(), 1, 123.45)
	if err != nil {
		t.Fatalf("run script: %v", err)
	}
	if res.State != StateDone || res.PacketID != 1 || res.Complete == nil || !res.Ack.Success() {
		t.Fatalf("unexpected result %+v", res)
	}

	sent := sentFrames(t, fx.link)
	if len(sent) != 1 || sent[0].TypeName() != "SCRIPT" || sent[0].PacketID != 1 {
		t.Fatalf("expected one SCRIPT frame with id 1, got %+v", sent)
	}
	cmd, err := command.Parse(sent[0])
	if err != nil {
		t.Fatalf("parse sent command: %v", err)
	}
	if v, _ := cmd.Get(command.ParamScriptID); v != uint32(1) {
		t.Fatalf("unexpected SCRIPT_ID %v", v)
	}
	if fx.c.State() != StateIdle {
		t.Fatalf("correlator must return to IDLE, got %s", fx.c.State())
	}
}

func TestAckResponseCodeThreeIsAcknowledgmentError(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t)
	fx.respond(protocol.ResponseInvalidCommand, nil)

	res, err := fx.c.RunScript(context.Background(), 1, 0)
	if !errors.Is(err, delphyerr.ErrAcknowledgment) {
		t.Fatalf("expected AcknowledgmentError, got %v", err)
	}
	if res.State != StateFailed || res.Ack.ResponseCode != protocol.ResponseInvalidCommand {
		t.Fatalf("unexpected result %+v", res)
	}
	if !fx.sess.Connected() {
		t.Fatalf("a rejected ACK must not drop the session")
	}
}

func TestNoTelemetryTimesOutAtOrAfterDeadline(t *testing.T) {
	fx := newFixture(t, WithTimeouts(Timeouts{Ack: 10 * time.Second, Poll: 500 * time.Millisecond}))
	fx.connect(t)

	start := fx.clock.Now()
	res, err := fx.c.RunScript(context.Background(), 1, 0)
	if !errors.Is(err, delphyerr.ErrTelemetryTimeout) {
		t.Fatalf("expected TelemetryTimeoutError, got %v", err)
	}
	if waited := fx.clock.Now().Sub(start); waited < 10*time.Second {
		t.Fatalf("timeout raised before deadline after %s", waited)
	}
	if fx.clock.sleeps != 20 {
		t.Fatalf("expected fixed 500ms interval (20 sleeps), got %d", fx.clock.sleeps)
	}
	if res.State != StateFailed {
		t.Fatalf("expected FAILED, got %s", res.State)
	}
	if !fx.sess.Connected() {
		t.Fatalf("timeout alone must not change the connected flag")
	}
}

func TestCompleteTimeoutMeasuredFromCompleteWait(t *testing.T) {
	fx := newFixture(t, WithTimeouts(Timeouts{Ack: time.Second, Complete: 3 * time.Second, Poll: time.Second}))
	fx.connect(t)
	fx.respond(protocol.ResponseSuccess, nil)

	start := fx.clock.Now()
	_, err := fx.c.RunScript(context.Background(), 2, 0)
	if !errors.Is(err, delphyerr.ErrTelemetryTimeout) {
		t.Fatalf("expected TelemetryTimeoutError, got %v", err)
	}
	if waited := fx.clock.Now().Sub(start); waited != 3*time.Second {
		t.Fatalf("complete deadline must start at the complete wait, waited %s", waited)
	}
}

func TestExecuteRequiresConnection(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.c.RunScript(context.Background(), 1, 0)
	if !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if fx.link.Connects != 0 || len(fx.link.Sent()) != 0 {
		t.Fatalf("correlator must not reconnect or send when disconnected")
	}
}

func TestNonMatchingFramesAreDiscarded(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t)
	fx.link.OnSend = func(b []byte) {
		f, _ := frame.Decode(b)
		fx.link.Push(frame.Frame{Header: frame.Header{PacketType: protocol.TypeIdentity}, Payload: payload.Encode(payload.Identity{MachineID: 4})})
		fx.link.Push(ackFrame(f.PacketID+40, protocol.ResponseSuccess))
		fx.link.Push(completeFrame(f.PacketID, 0))
		fx.link.Push(frame.Frame{Header: frame.Header{PacketType: protocol.PacketType(77)}, Payload: []byte{1}})
		fx.link.Push(ackFrame(f.PacketID, protocol.ResponseSuccess))
	}

	res, err := fx.c.SendMessage(context.Background(), protocol.LogOutput, "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if res.State != StateDone || res.Complete != nil {
		t.Fatalf("SEND_MESSAGE must finish on ACK alone: %+v", res)
	}
	if fx.link.Pending() != 0 {
		t.Fatalf("frames before the match must be consumed")
	}
}

func TestMalformedAckIsAcknowledgmentError(t *testing.T) {
	fx := newFixture(t, WithTimeouts(Timeouts{Ack: time.Second, Poll: 500 * time.Millisecond}))
	fx.connect(t)
	fx.link.OnSend = func(b []byte) {
		f, _ := frame.Decode(b)
		fx.link.Push(frame.Frame{Header: frame.Header{PacketType: protocol.TypeAck, PacketID: f.PacketID + 1, Length: 3}, Payload: []byte{0, 0, 1}})
	}

	res, err := fx.c.RequestControl(context.Background(), protocol.ControlRequest)
	if !errors.Is(err, delphyerr.ErrAcknowledgment) {
		t.Fatalf("expected AcknowledgmentError, got %v", err)
	}
	if errors.Is(err, delphyerr.ErrTelemetryTimeout) {
		t.Fatalf("malformed ACK must not wait for the deadline: %v", err)
	}
	var me *payload.MalformedError
	if !errors.As(err, &me) || me.Type != protocol.TypeAck {
		t.Fatalf("expected MalformedError cause, got %v", err)
	}
	if fx.clock.sleeps != 0 || res.State != StateFailed {
		t.Fatalf("expected immediate failure, sleeps=%d state=%s", fx.clock.sleeps, res.State)
	}
}

func TestFailureAckForOtherIDIsAcknowledgmentError(t *testing.T) {
	fx := newFixture(t, WithTimeouts(Timeouts{Ack: time.Second, Poll: 500 * time.Millisecond}))
	fx.connect(t)
	fx.link.OnSend = func([]byte) {
		fx.link.Push(ackFrame(999, protocol.ResponseInvalidCommand))
	}

	res, err := fx.c.RunScript(context.Background(), 1, 0)
	if !errors.Is(err, delphyerr.ErrAcknowledgment) {
		t.Fatalf("expected AcknowledgmentError, got %v", err)
	}
	if res.Ack.OriginalID != 999 || res.Ack.ResponseCode != protocol.ResponseInvalidCommand {
		t.Fatalf("failing ACK must be reported, got %+v", res.Ack)
	}
	if fx.clock.sleeps != 0 {
		t.Fatalf("failure ACK must end the wait, slept %d times", fx.clock.sleeps)
	}
}

func TestFramesReadAfterDeadlineDoNotMatch(t *testing.T) {
	fx := newFixture(t, WithTimeouts(Timeouts{Ack: 3 * time.Second, Poll: 500 * time.Millisecond}))
	fx.connect(t)
	fx.link.OnSend = func(b []byte) {
		f, _ := frame.Decode(b)
		for i := uint32(1); i <= 10; i++ {
			fx.link.Push(ackFrame(f.PacketID+i, protocol.ResponseSuccess))
		}
		fx.link.Push(ackFrame(f.PacketID, protocol.ResponseSuccess))
	}
	fx.clock.step = time.Second

	_, err := fx.c.SendMessage(context.Background(), protocol.LogOutput, "backlog")
	if !errors.Is(err, delphyerr.ErrTelemetryTimeout) {
		t.Fatalf("expected TelemetryTimeoutError, got %v", err)
	}
	if fx.link.Pending() == 0 {
		t.Fatalf("the matching ACK sits past the deadline and must stay unread")
	}
}

func TestCompleteFailureKinds(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t)
	fx.respond(protocol.ResponseSuccess, u32(2))

	if _, err := fx.c.RunScript(context.Background(), 1, 0); !errors.Is(err, delphyerr.ErrScriptExecution) {
		t.Fatalf("script COMPLETE failure: expected ScriptExecutionError, got %v", err)
	}
	if _, err := fx.c.ResetSystem(context.Background(), protocol.ResetSoft, "x"); !errors.Is(err, delphyerr.ErrAcknowledgment) {
		t.Fatalf("reset COMPLETE failure: expected AcknowledgmentError, got %v", err)
	}
}

func TestConcurrentExecuteRejected(t *testing.T) {
	fx := newFixture(t, WithTimeouts(Timeouts{Ack: time.Second, Poll: 500 * time.Millisecond}))
	fx.connect(t)

	var nestedErr error
	fx.clock.onSleep = func() {
		fx.clock.onSleep = nil
		if fx.c.State() != StateAwaitingAck {
			nestedErr = errors.New("unexpected state " + fx.c.State().String())
			return
		}
		_, nestedErr = fx.c.SendMessage(context.Background(), protocol.LogOutput, "second")
	}
	_, _ = fx.c.RunScript(context.Background(), 1, 0)
	if !errors.Is(nestedErr, delphyerr.ErrCommand) {
		t.Fatalf("expected CommandError for concurrent execute, got %v", nestedErr)
	}
	if len(fx.link.Sent()) != 1 {
		t.Fatalf("rejected command must not be sent")
	}
}

func TestRunScriptParameterRange(t *testing.T) {
	fx := newFixture(t, WithParameterRange(0, 100))
	fx.connect(t)
	if _, err := fx.c.RunScript(context.Background(), 1, 101); !errors.Is(err, delphyerr.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(fx.link.Sent()) != 0 {
		t.Fatalf("out-of-range parameter must not be sent")
	}
}

func TestMonitor(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.c.Monitor(context.Background(), protocol.PacketType(3), time.Second); !errors.Is(err, delphyerr.ErrUnknownResponse) {
		t.Fatalf("expected UnknownResponseError, got %v", err)
	}
	fx.connect(t)
	fx.link.Push(ackFrame(9, protocol.ResponseSuccess))
	fx.link.Push(frame.Frame{Header: frame.Header{PacketType: protocol.TypeIdentity, PacketID: 3}, Payload: payload.Encode(payload.Identity{MachineID: 42})})

	tm, err := fx.c.Monitor(context.Background(), protocol.TypeIdentity, time.Second)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if id, ok := tm.Payload.(payload.Identity); !ok || id.MachineID != 42 {
		t.Fatalf("unexpected telemetry %+v", tm.Payload)
	}

	if _, err := fx.c.Monitor(context.Background(), protocol.TypeComplete, time.Second); !errors.Is(err, delphyerr.ErrTelemetryTimeout) {
		t.Fatalf("expected TelemetryTimeoutError, got %v", err)
	}
}

func TestFullWorkflowSuccessDisconnects(t *testing.T) {
	fx := newFixture(t)
	fx.respond(protocol.ResponseSuccess, u32(0))

	report, err := fx.c.FullWorkflow(context.Background(), 1, 456.78)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if report.Script.State != StateDone || report.Reset.State != StateDone {
		t.Fatalf("unexpected report %+v", report)
	}
	sent := sentFrames(t, fx.link)
	if len(sent) != 2 || sent[0].PacketType != protocol.TypeScript || sent[1].PacketType != protocol.TypeControl {
		t.Fatalf("expected SCRIPT then CONTROL, got %d frames", len(sent))
	}
	if fx.sess.Connected() || fx.link.Disconnects != 1 {
		t.Fatalf("workflow must always disconnect")
	}
}

func TestFullWorkflowShortCircuitsAndDisconnects(t *testing.T) {
	fx := newFixture(t, WithTimeouts(Timeouts{Ack: time.Second, Poll: 500 * time.Millisecond}))

	_, err := fx.c.FullWorkflow(context.Background(), 1, 0)
	if !errors.Is(err, delphyerr.ErrTelemetryTimeout) {
		t.Fatalf("expected TelemetryTimeoutError, got %v", err)
	}
	if len(fx.link.Sent()) != 1 {
		t.Fatalf("reset must not be sent after a failed script")
	}
	if fx.sess.Connected() {
		t.Fatalf("session must not be left connected after workflow failure")
	}

	fx.link.ConnectErr = errors.New("refused")
	if _, err := fx.c.FullWorkflow(context.Background(), 1, 0); !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestDiagnostics(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.c.Diagnostics(context.Background()); !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	fx.connect(t)
	fx.respond(protocol.ResponseSuccess, nil)
	if _, err := fx.c.RequestControl(context.Background(), protocol.ControlRequest); err != nil {
		t.Fatalf("request control: %v", err)
	}
	d, err := fx.c.Diagnostics(context.Background())
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if !d.Connected || d.SessionID == "" || d.State != StateIdle || d.Last == nil || d.Last.Kind != command.KindControl {
		t.Fatalf("unexpected diagnostics %+v", d)
	}
}
