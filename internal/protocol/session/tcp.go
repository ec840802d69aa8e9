package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/observability"
	"github.com/danmuck/delphyctl/internal/protocol"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
	"github.com/danmuck/delphyctl/internal/protocol/payload"
	"github.com/rs/zerolog"
)

var ErrLinkClosed = errors.New("session: link closed by peer")

// TCPLink is a Link over one TCP connection. A background reader decodes
// frames into a bounded queue drained by ReadNext.
type TCPLink struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	conn        net.Conn
	queue       chan frame.Frame
	done        chan struct{}
	readErr     error
	machineID   uint32
	hasIdentity bool

	wg sync.WaitGroup
}

func NewTCPLink(cfg Config, logger zerolog.Logger) *TCPLink {
	return &TCPLink{
		cfg:    cfg.WithDefaults(),
		logger: logger.With().Str("component", "tcp_link").Logger(),
	}
}

func (l *TCPLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	if err := l.cfg.Validate(); err != nil {
		return err
	}

	addr := l.cfg.Address()
	dialer := net.Dialer{Timeout: l.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return delphyerr.Connection(err, "dial %s", addr)
	}

	l.conn = conn
	l.queue = make(chan frame.Frame, l.cfg.ReadQueueDepth)
	l.done = make(chan struct{})
	l.readErr = nil
	l.machineID, l.hasIdentity = 0, false

	l.wg.Add(1)
	go l.readLoop(conn, l.queue, l.done)
	l.logger.Info().Str("addr", addr).Msg("link connected")
	return nil
}

func (l *TCPLink) readLoop(conn net.Conn, queue chan<- frame.Frame, done <-chan struct{}) {
	defer l.wg.Done()
	r := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(r, l.cfg.Limits)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			l.fail(err)
			return
		}
		observability.RecordFrame("in", f.TypeName())
		if f.PacketType == protocol.TypeIdentity {
			l.recordIdentity(f)
		}
		select {
		case queue <- f:
		case <-done:
			return
		}
	}
}

func (l *TCPLink) recordIdentity(f frame.Frame) {
	p, err := payload.DecodeTyped(f)
	if err != nil {
		l.logger.Warn().Err(err).Msg("identity frame rejected")
		return
	}
	id := p.(payload.Identity)
	l.mu.Lock()
	l.machineID, l.hasIdentity = id.MachineID, true
	l.mu.Unlock()
	l.logger.Info().Uint32("machine_id", id.MachineID).Msg("instrument identified")
}

func (l *TCPLink) fail(err error) {
	if errors.Is(err, io.EOF) {
		err = ErrLinkClosed
	} else if reason := frame.Reason(err); reason != "other" {
		observability.RecordDecodeError(reason)
	}
	l.mu.Lock()
	l.readErr = err
	l.mu.Unlock()
	l.logger.Error().Err(err).Msg("link reader stopped")
}

func (l *TCPLink) Status(ctx context.Context) (LinkStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := LinkStatus{
		Connected:   l.conn != nil && l.readErr == nil,
		MachineID:   l.machineID,
		HasIdentity: l.hasIdentity,
	}
	if l.conn != nil {
		st.Remote = l.conn.RemoteAddr().String()
	}
	return st, nil
}

func (l *TCPLink) Send(ctx context.Context, b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return delphyerr.Connection(nil, "link not connected")
	}
	if l.readErr != nil {
		return delphyerr.Connection(l.readErr, "link reader stopped")
	}
	deadline := time.Now().Add(l.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return delphyerr.Connection(err, "set write deadline")
	}
	if _, err := l.conn.Write(b); err != nil {
		return delphyerr.Connection(err, "write %d bytes", len(b))
	}
	return nil
}

func (l *TCPLink) ReadNext(ctx context.Context) (*frame.Frame, error) {
	l.mu.Lock()
	queue, readErr := l.queue, l.readErr
	l.mu.Unlock()
	if queue == nil {
		return nil, delphyerr.Connection(nil, "link not connected")
	}
	select {
	case f := <-queue:
		return &f, nil
	default:
	}
	if readErr != nil {
		return nil, delphyerr.Connection(readErr, "link reader stopped")
	}
	return nil, nil
}

// Disconnect closes the socket and waits for the reader to exit.
// Frames still queued are dropped.
func (l *TCPLink) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	if l.conn == nil {
		l.mu.Unlock()
		return nil
	}
	close(l.done)
	err := l.conn.Close()
	l.conn = nil
	l.queue = nil
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info().Msg("link closed")
	if err != nil {
		return delphyerr.Connection(err, "close link")
	}
	return nil
}
