// Package savestate tracks the outcome of the most recent persisted edits.
package savestate

import (
	"sync"
	"time"
)

type State string

const (
	Idle   State = "idle"
	Saving State = "saving"
	Saved  State = "saved"
	Error  State = "error"
)

type Snapshot struct {
	State     State      `json:"state" enum:"idle,saving,saved,error"`
	LastSaved *time.Time `json:"last_saved,omitempty" format:"date-time"`
	LastError string     `json:"last_error,omitempty"`
	InFlight  int        `json:"in_flight"`
}

// Tracker is safe for concurrent use. A nil *Tracker ignores every call.
type Tracker struct {
	mu        sync.Mutex
	state     State
	lastSaved *time.Time
	lastErr   string
	inFlight  int
	now       func() time.Time
	listeners []func(Snapshot)
}

func New(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{state: Idle, now: now}
}

// OnChange registers fn to be called after every transition.
func (t *Tracker) OnChange(fn func(Snapshot)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Begin marks one save as in flight. An Error state is kept until a save
// succeeds.
func (t *Tracker) Begin() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.inFlight++
	if t.state != Error {
		t.state = Saving
	}
	t.notifyLocked()
}

// Done finishes a save started with Begin. The state stays Saving while
// other saves are still running; a failure sticks until the next success.
func (t *Tracker) Done(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.inFlight > 0 {
		t.inFlight--
	}
	if err != nil {
		t.lastErr = err.Error()
		t.state = Error
	} else {
		now := t.now()
		t.lastSaved = &now
		t.lastErr = ""
		if t.inFlight > 0 {
			t.state = Saving
		} else {
			t.state = Saved
		}
	}
	t.notifyLocked()
}

// Track runs fn between Begin and Done.
func (t *Tracker) Track(fn func() error) error {
	t.Begin()
	err := fn()
	t.Done(err)
	return err
}

func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{State: Idle}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{State: t.state, LastError: t.lastErr, InFlight: t.inFlight}
	if t.lastSaved != nil {
		ls := *t.lastSaved
		s.LastSaved = &ls
	}
	return s
}

// notifyLocked releases the lock before calling listeners.
func (t *Tracker) notifyLocked() {
	snap := t.snapshotLocked()
	listeners := append([]func(Snapshot){}, t.listeners...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
