package correlator

import (
	"sync"
	"time"

	"github.com/danmuck/delphyctl/internal/delphyerr"
	"github.com/danmuck/delphyctl/internal/protocol/command"
)

// State is the correlator lifecycle of one command.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingAck
	StateAwaitingComplete
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"IDLE",
	"SENDING",
	"AWAITING_ACK",
	"AWAITING_COMPLETE",
	"DONE",
	"FAILED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports DONE or FAILED.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Pending tracks the one command awaiting telemetry.
type Pending struct {
	Kind       command.Kind
	PacketID   uint32
	State      State
	QueuedAt   time.Time
	SentAt     time.Time
	DeadlineAt time.Time
	LastError  string
}

// inflight admits at most one pending command at a time.
type inflight struct {
	mu     sync.Mutex
	item   Pending
	busy   bool
	last   Pending
	hasRun bool
}

func (f *inflight) begin(kind command.Kind, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return delphyerr.Command(nil, "%s rejected: %s id=%d still %s",
			kind, f.item.Kind, f.item.PacketID, f.item.State)
	}
	f.busy = true
	f.item = Pending{Kind: kind, State: StateIdle, QueuedAt: at}
	return nil
}

func (f *inflight) update(fn func(*Pending)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.busy {
		return
	}
	fn(&f.item)
}

func (f *inflight) transition(s State) {
	f.update(func(p *Pending) { p.State = s })
}

// finish records the terminal state and frees the slot.
func (f *inflight) finish(err error) Pending {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.item.State = StateFailed
		f.item.LastError = err.Error()
	} else {
		f.item.State = StateDone
	}
	f.last = f.item
	f.hasRun = true
	f.busy = false
	f.item = Pending{}
	return f.last
}

// snapshot returns the in-flight command, or the last finished one when idle.
func (f *inflight) snapshot() (Pending, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return f.item, true
	}
	return f.last, f.hasRun
}

func (f *inflight) current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return f.item.State
	}
	return StateIdle
}
