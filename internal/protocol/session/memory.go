package session

import (
	"context"
	"sync"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol/frame"
)

// MemoryLink is an in-process Link. Tests script it through the exported
// failure fields and the OnSend responder.
type MemoryLink struct {
	mu        sync.Mutex
	connected bool
	inbox     []frame.Frame
	sent      [][]byte

	ConnectErr    error
	StatusErr     error
	SendErr       error
	DisconnectErr error
	// StatusDown makes Status report disconnected after a successful Connect.
	StatusDown bool
	// OnSend runs after each successful Send without the link lock held, so
	// it may call Push to answer the frame.
	OnSend func(b []byte)

	Connects    int
	Disconnects int
}

func NewMemoryLink() *MemoryLink {
	return &MemoryLink{}
}

func (m *MemoryLink) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connects++
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

func (m *MemoryLink) Status(ctx context.Context) (LinkStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return LinkStatus{}, m.StatusErr
	}
	return LinkStatus{Connected: m.connected && !m.StatusDown, Remote: "memory"}, nil
}

func (m *MemoryLink) Send(ctx context.Context, b []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return delphyerr.Connection(nil, "memory link not connected")
	}
	if m.SendErr != nil {
		err := m.SendErr
		m.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), b...)
	m.sent = append(m.sent, cp)
	onSend := m.OnSend
	m.mu.Unlock()

	if onSend != nil {
		onSend(cp)
	}
	return nil
}

func (m *MemoryLink) ReadNext(ctx context.Context) (*frame.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return nil, nil
	}
	f := m.inbox[0]
	m.inbox = m.inbox[1:]
	return &f, nil
}

func (m *MemoryLink) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Disconnects++
	m.connected = false
	return m.DisconnectErr
}

// Push queues an inbound frame.
func (m *MemoryLink) Push(f frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, f)
}

// Sent returns copies of every frame written so far.
func (m *MemoryLink) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// Pending reports how many inbound frames are still queued.
func (m *MemoryLink) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbox)
}
