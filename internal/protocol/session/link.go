package session

import (
	"context"

	"github.com/danmuck/delphyctl/internal/protocol/frame"
)

// LinkStatus is the link's own view of the connection.
type LinkStatus struct {
	Connected bool
	Remote    string
	// MachineID is set once an IDENTITY frame has arrived.
	MachineID   uint32
	HasIdentity bool
}

// Link is the transport collaborator used by Session.
type Link interface {
	Connect(ctx context.Context) error
	Status(ctx context.Context) (LinkStatus, error)
	Send(ctx context.Context, b []byte) error
	// ReadNext returns the oldest pending frame, or nil when none is pending.
	// It never blocks waiting for data.
	ReadNext(ctx context.Context) (*frame.Frame, error)
	Disconnect(ctx context.Context) error
}
