package session

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/observability"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Option func(*Session)

// WithClock replaces time.Now for session_time stamping.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns the connected flag for one Link.
type Session struct {
	link   Link
	logger zerolog.Logger
	now    func() time.Time

	// connMu serializes Connect and Disconnect so a dial never holds mu.
	connMu sync.Mutex

	mu        sync.Mutex
	connected bool
	id        uuid.UUID
	started   time.Time
	nextID    uint32
}

func New(link Link, logger zerolog.Logger, opts ...Option) *Session {
	s := &Session{
		link:   link,
		logger: logger.With().Str("component", "session").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the link and verifies it with an independent status check.
// It is a no-op when already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.Connected() {
		return nil
	}

	if err := s.link.Connect(ctx); err != nil {
		s.logger.Error().Err(err).Msg("connect failed")
		return delphyerr.Connection(err, "connect")
	}
	st, err := s.link.Status(ctx)
	if err != nil || !st.Connected {
		if derr := s.link.Disconnect(ctx); derr != nil {
			s.logger.Warn().Err(derr).Msg("close after failed verification")
		}
		if err == nil {
			s.logger.Error().Msg("link reports disconnected after connect")
			return delphyerr.Connection(nil, "link status not connected after connect")
		}
		s.logger.Error().Err(err).Msg("status check failed")
		return delphyerr.Connection(err, "verify connection")
	}

	id := uuid.New()
	s.mu.Lock()
	s.connected = true
	s.id = id
	s.started = s.now()
	s.nextID = 0
	s.mu.Unlock()
	s.logger.Info().Str("session_id", id.String()).Str("remote", st.Remote).Msg("session connected")
	return nil
}

// Disconnect closes the link. Link errors are logged, never returned, and
// the session is disconnected afterwards regardless.
func (s *Session) Disconnect(ctx context.Context) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	id := s.id
	s.mu.Unlock()

	if err := s.link.Disconnect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("link disconnect error")
	}
	s.logger.Info().Str("session_id", id.String()).Msg("session disconnected")
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ID is the current session id, empty when never connected.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == uuid.Nil {
		return ""
	}
	return s.id.String()
}

// SessionTime is seconds elapsed since Connect.
func (s *Session) SessionTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0
	}
	return s.now().Sub(s.started).Seconds()
}

// NextPacketID returns the next outbound packet id, starting at 1.
// Zero is skipped on wraparound.
func (s *Session) NextPacketID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return s.nextID
}

// Status passes through the link's view of the connection.
func (s *Session) Status(ctx context.Context) (LinkStatus, error) {
	return s.link.Status(ctx)
}

func (s *Session) Send(ctx context.Context, b []byte) error {
	if !s.Connected() {
		return delphyerr.Connection(nil, "session not connected")
	}
	if err := s.link.Send(ctx, b); err != nil {
		s.logger.Error().Err(err).Int("bytes", len(b)).Msg("send failed")
		s.dropIfLinkDown(ctx)
		if delphyerr.KindOf(err) == delphyerr.KindConnection {
			return err
		}
		return delphyerr.Connection(err, "send")
	}
	if f, err := frame.Decode(b); err == nil {
		observability.RecordFrame("out", f.TypeName())
	}
	return nil
}

// ReadNext returns the next inbound frame or nil when none is pending.
func (s *Session) ReadNext(ctx context.Context) (*frame.Frame, error) {
	if !s.Connected() {
		return nil, delphyerr.Connection(nil, "session not connected")
	}
	f, err := s.link.ReadNext(ctx)
	if err != nil {
		s.dropIfLinkDown(ctx)
		return nil, err
	}
	return f, nil
}

// dropIfLinkDown marks the session disconnected when the link no longer
// reports a live connection.
func (s *Session) dropIfLinkDown(ctx context.Context) {
	st, err := s.link.Status(ctx)
	if err == nil && st.Connected {
		return
	}
	s.Disconnect(ctx)
}
