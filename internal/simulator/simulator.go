// Package simulator is a loopback DELPHY instrument for local runs and
// integration tests. It announces IDENTITY on connect, acknowledges every
// command, and finishes RUN_SCRIPT, RESET_SYSTEM and CAPTURE_DATA with a
// COMPLETE carrying the command's packet id.
package simulator

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/delphyctl/internal/observability"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/command"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/payload"
	"github.com/rs/zerolog"
)

type Config struct {
	ListenAddr string
	MachineID  uint32
	// AckCode is sent in every ACK. Non-success codes suppress COMPLETE.
	AckCode      protocol.ResponseCode
	CompleteCode uint32
	// CompleteDelay separates the ACK from the COMPLETE.
	CompleteDelay time.Duration
	// Mute drops every reply after IDENTITY.
	Mute         bool
	WriteTimeout time.Duration
	Limits       frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   "127.0.0.1:14670",
		MachineID:    1,
		AckCode:      protocol.ResponseSuccess,
		WriteTimeout: 5 * time.Second,
		Limits:       frame.DefaultLimits(),
	}
}

// Received is one command observed by the simulator.
type Received struct {
	PacketID uint32
	Command  command.Command
	Err      error
	At       time.Time
}

type Simulator struct {
	cfg    Config
	logger zerolog.Logger
	codec  frame.Codec
	start  time.Time

	nextID atomic.Uint32

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	received []Received
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg Config, logger zerolog.Logger) *Simulator {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	logger = logger.With().Str("component", "simulator").Logger()
	return &Simulator{
		cfg:    cfg,
		logger: logger,
		codec:  frame.NewCodec(logger),
		start:  time.Now(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (s *Simulator) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(ctx, ln); err != nil {
			s.logger.Error().Err(err).Msg("serve stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Uint32("machine_id", s.cfg.MachineID).Msg("simulator listening")
	return nil
}

// Addr is the bound listener address, empty before Start.
func (s *Simulator) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts instrument sessions on ln until ctx ends.
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops the listener and every open session.
func (s *Simulator) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.closeAllConns()
	s.wg.Wait()
	return nil
}

// Received returns every command seen so far in arrival order.
func (s *Simulator) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.received))
	copy(out, s.received)
	return out
}

func (s *Simulator) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	s.logger.Info().Str("remote", remote).Msg("client connected")
	defer s.logger.Info().Str("remote", remote).Msg("client disconnected")

	if err := s.write(conn, protocol.TypeIdentity, s.packetID(), payload.Encode(payload.Identity{MachineID: s.cfg.MachineID})); err != nil {
		s.logger.Warn().Err(err).Msg("write identity")
		return
	}

	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, s.cfg.Limits)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Err(err).Str("remote", remote).Msg("read stopped")
			}
			return
		}
		observability.RecordFrame("sim_in", f.TypeName())
		cmd, perr := command.Parse(f)
		s.record(Received{PacketID: f.PacketID, Command: cmd, Err: perr, At: time.Now()})
		if s.cfg.Mute {
			continue
		}
		if !s.reply(conn, f, cmd, perr) {
			return
		}
	}
}

// reply answers one command frame and reports whether the session stays
// open.
func (s *Simulator) reply(conn net.Conn, f frame.Frame, cmd command.Command, perr error) bool {
	code := s.cfg.AckCode
	msg := code.String()
	if perr != nil {
		code = protocol.ResponseInvalidCommand
		msg = perr.Error()
		s.logger.Warn().Err(perr).Uint32("packet_id", f.PacketID).Msg("command rejected")
	}
	ack := payload.Ack{OriginalID: f.PacketID, ResponseCode: code, Message: msg}
	if err := s.write(conn, protocol.TypeAck, s.packetID(), payload.Encode(ack)); err != nil {
		s.logger.Warn().Err(err).Msg("write ack")
		return false
	}
	s.logger.Info().
		Str("kind", cmd.Kind.String()).
		Uint32("packet_id", f.PacketID).
		Str("response", code.String()).
		Msg("command acknowledged")

	if perr != nil || code != protocol.ResponseSuccess {
		return true
	}
	switch cmd.Kind {
	case command.KindRunScript, command.KindResetSystem, command.KindCaptureData:
		if s.cfg.CompleteDelay > 0 {
			time.Sleep(s.cfg.CompleteDelay)
		}
		comp := payload.Complete{Code: s.cfg.CompleteCode, Message: "completed " + cmd.Kind.String()}
		if err := s.write(conn, protocol.TypeComplete, f.PacketID, payload.Encode(comp)); err != nil {
			s.logger.Warn().Err(err).Msg("write complete")
			return false
		}
	case command.KindDisconnect:
		return false
	}
	return true
}

func (s *Simulator) write(conn net.Conn, pt protocol.PacketType, id uint32, body []byte) error {
	b, err := s.codec.Encode(pt, id, time.Since(s.start).Seconds(), body)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write(b); err != nil {
		return err
	}
	observability.RecordFrame("sim_out", pt.String())
	return nil
}

// packetID numbers simulator-originated frames from a range that does not
// collide with small client ids.
func (s *Simulator) packetID() uint32 {
	return 0x8000_0000 + s.nextID.Add(1)
}

func (s *Simulator) record(r Received) {
	s.mu.Lock()
	s.received = append(s.received, r)
	s.mu.Unlock()
}

func (s *Simulator) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Simulator) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Simulator) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
