package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/payload"
	"github.com/danmuck/delphyctl/internal/testutil/testlog"
)

func TestSessionConnectDisconnectLifecycle(t *testing.T) {
	logger := testlog.Start(t)
	link := NewMemoryLink()
	s := New(link, logger)
	ctx := context.Background()

	if s.Connected() || s.ID() != "" {
		t.Fatalf("new session must start disconnected")
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !s.Connected() || s.ID() == "" {
		t.Fatalf("expected connected session with id")
	}
	first := s.ID()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if link.Connects != 1 || s.ID() != first {
		t.Fatalf("connect must be idempotent: connects=%d", link.Connects)
	}

	s.Disconnect(ctx)
	s.Disconnect(ctx)
	if s.Connected() {
		t.Fatalf("expected disconnected")
	}
	if link.Disconnects != 1 {
		t.Fatalf("disconnect must be idempotent: disconnects=%d", link.Disconnects)
	}
}

// gatedLink blocks Connect until release is closed.
type gatedLink struct {
	*MemoryLink
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLink) Connect(ctx context.Context) error {
	close(g.entered)
	<-g.release
	return g.MemoryLink.Connect(ctx)
}

func TestSessionStateReadableDuringDial(t *testing.T) {
	logger := testlog.Start(t)
	link := &gatedLink{MemoryLink: NewMemoryLink(), entered: make(chan struct{}), release: make(chan struct{})}
	s := New(link, logger)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()
	<-link.entered

	read := make(chan bool, 1)
	go func() { read <- s.Connected() || s.ID() != "" }()
	select {
	case got := <-read:
		if got {
			t.Fatalf("session must read as disconnected while dialing")
		}
	case <-time.After(time.Second):
		close(link.release)
		t.Fatalf("Connected blocked behind an in-progress dial")
	}

	close(link.release)
	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !s.Connected() || s.ID() == "" {
		t.Fatalf("expected connected session after dial")
	}
}

func TestSessionConnectFailureIsConnectionError(t *testing.T) {
	logger := testlog.Start(t)
	link := NewMemoryLink()
	link.ConnectErr = errors.New("refused")
	s := New(link, logger)

	err := s.Connect(context.Background())
	if !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("failed connect must leave session disconnected")
	}
}

func TestSessionConnectVerifiesStatus(t *testing.T) {
	logger := testlog.Start(t)
	link := NewMemoryLink()
	link.StatusDown = true
	s := New(link, logger)

	err := s.Connect(context.Background())
	if !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("unverified connect must leave session disconnected")
	}
	if link.Disconnects != 1 {
		t.Fatalf("link must be closed after failed verification")
	}

	link.StatusDown = false
	link.StatusErr = errors.New("status unavailable")
	if err := s.Connect(context.Background()); !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError on status error, got %v", err)
	}
}

func TestSessionDisconnectSwallowsLinkError(t *testing.T) {
	logger := testlog.Start(t)
	link := NewMemoryLink()
	link.DisconnectErr = errors.New("reset by peer")
	s := New(link, logger)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.Disconnect(context.Background())
	if s.Connected() {
		t.Fatalf("disconnect must clear connected even when link errors")
	}
}

func TestSessionPacketIDsAndSessionTime(t *testing.T) {
	logger := testlog.Start(t)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	s := New(NewMemoryLink(), logger, WithClock(func() time.Time { return now }))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for want := uint32(1); want <= 3; want++ {
		if got := s.NextPacketID(); got != want {
			t.Fatalf("packet id got=%d want=%d", got, want)
		}
	}
	now = now.Add(2500 * time.Millisecond)
	if got := s.SessionTime(); got != 2.5 {
		t.Fatalf("session time got=%v", got)
	}

	s.nextID = ^uint32(0)
	if got := s.NextPacketID(); got != 1 {
		t.Fatalf("wraparound must skip zero, got=%d", got)
	}
}

func TestSessionSendRequiresConnection(t *testing.T) {
	logger := testlog.Start(t)
	s := New(NewMemoryLink(), logger)
	if err := s.Send(context.Background(), []byte{1}); !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if _, err := s.ReadNext(context.Background()); !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort || cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Address() != "129.162.153.79:14670" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	cfg.Port = 70000
	if err := cfg.Validate(); !errors.Is(err, delphyerr.ErrConfiguration) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func listen(t *testing.T) (net.Listener, Config) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return ln, Config{Host: host, Port: port, ConnectTimeout: 2 * time.Second}
}

func waitFrame(t *testing.T, s *Session) frame.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, err := s.ReadNext(context.Background())
		if err != nil {
			t.Fatalf("read next: %v", err)
		}
		if f != nil {
			return *f
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for frame")
	return frame.Frame{}
}

func TestTCPLinkLoopback(t *testing.T) {
	logger := testlog.Start(t)
	ln, cfg := listen(t)

	received := make(chan frame.Frame, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		identity := payload.Encode(payload.Identity{MachineID: 77})
		_, _ = conn.Write(frame.Marshal(frame.Frame{Header: frame.Header{PacketType: protocol.TypeIdentity}, Payload: identity}))

		f, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		received <- f
		ack := payload.Encode(payload.Ack{OriginalID: f.PacketID, ResponseCode: protocol.ResponseSuccess})
		_, _ = conn.Write(frame.Marshal(frame.Frame{Header: frame.Header{PacketType: protocol.TypeAck, PacketID: 900}, Payload: ack}))
		_, _ = frame.ReadFrame(conn, frame.DefaultLimits())
	}()

	link := NewTCPLink(cfg, logger)
	s := New(link, logger)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect(ctx)

	if f := waitFrame(t, s); f.PacketType != protocol.TypeIdentity {
		t.Fatalf("expected IDENTITY first, got %s", f.TypeName())
	}
	st, err := s.Status(ctx)
	if err != nil || !st.Connected || !st.HasIdentity || st.MachineID != 77 {
		t.Fatalf("unexpected status %+v err=%v", st, err)
	}

	codec := frame.NewCodec(logger)
	id := s.NextPacketID()
	b, err := codec.Encode(protocol.TypeScript, id, s.SessionTime(), []byte{1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := s.Send(ctx, b); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-received:
		if got.PacketID != id || got.PacketType != protocol.TypeScript {
			t.Fatalf("server got %s", got.Header)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not receive frame")
	}

	f := waitFrame(t, s)
	p, err := payload.Expect(f, protocol.TypeAck)
	if err != nil {
		t.Fatalf("expect ack: %v", err)
	}
	if ack := p.(payload.Ack); ack.OriginalID != id || !ack.Success() {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestTCPLinkPeerCloseDropsSession(t *testing.T) {
	logger := testlog.Start(t)
	ln, cfg := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}()

	s := New(NewTCPLink(cfg, logger), logger)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := s.ReadNext(ctx)
		if err != nil {
			if !errors.Is(err, delphyerr.ErrConnection) || !errors.Is(err, ErrLinkClosed) {
				t.Fatalf("expected connection error for peer close, got %v", err)
			}
			if s.Connected() {
				t.Fatalf("session must not stay connected after peer close")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer close was never observed")
}

func TestTCPLinkDialFailure(t *testing.T) {
	logger := testlog.Start(t)
	ln, cfg := listen(t)
	_ = ln.Close()

	s := New(NewTCPLink(cfg, logger), logger)
	if err := s.Connect(context.Background()); !errors.Is(err, delphyerr.ErrConnection) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("dial failure must leave session disconnected")
	}
}
