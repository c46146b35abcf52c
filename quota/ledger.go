// Package quota enforces per-session and per-event print limits.
package quota

import (
	"errors"
	"fmt"
	"sync"
)

// Constraint identifies which counter blocked a reservation.
type Constraint string

const (
	ConstraintSession Constraint = "session"
	ConstraintEvent   Constraint = "event"
)

// DeniedError is returned by TryReserve when a limit would be exceeded.
type DeniedError struct {
	Constraint Constraint
	Limit      int
	Used       int
	Requested  int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d of %d used, %d requested",
		e.Constraint, e.Used, e.Limit, e.Requested)
}

// Reservation is a provisional charge against session and event counters,
// taken before any printer is contacted. Commit keeps the charge (it is a
// marker today; the reserve already counted the copies, the split exists
// so a charge-on-success policy can land without touching call sites).
// Release gives the copies back after a terminal failure. Both are
// idempotent.
type Reservation interface {
	Commit()
	Release()
}

type counter struct {
	limit int
	used  int
}

func (c *counter) remaining() int {
	if c.limit <= 0 {
		return 0 // unlimited
	}
	if c.used >= c.limit {
		return 0
	}
	return c.limit - c.used
}

// Ledger tracks print usage per session and per event. A limit of 0 means
// unlimited. All mutation goes through Reserve/Refund under one mutex, so
// concurrent reservations can never jointly pass a shared limit.
type Ledger struct {
	mu           sync.Mutex
	sessionLimit int
	eventLimit   int
	sessions     map[string]*counter
	events       map[string]*counter
}

// NewLedger creates a ledger with default limits applied to counters as
// they are first seen.
func NewLedger(sessionLimit, eventLimit int) *Ledger {
	return &Ledger{
		sessionLimit: sessionLimit,
		eventLimit:   eventLimit,
		sessions:     make(map[string]*counter),
		events:       make(map[string]*counter),
	}
}

func (l *Ledger) session(id string) *counter {
	c, ok := l.sessions[id]
	if !ok {
		c = &counter{limit: l.sessionLimit}
		l.sessions[id] = c
	}
	return c
}

func (l *Ledger) event(id string) *counter {
	c, ok := l.events[id]
	if !ok {
		c = &counter{limit: l.eventLimit}
		l.events[id] = c
	}
	return c
}

// Reserve atomically charges copies against both counters, or neither.
// On denial it returns a *DeniedError naming the binding constraint; the
// session counter is checked first.
func (l *Ledger) Reserve(sessionID, eventID string, copies int) error {
	if copies <= 0 {
		return errors.New("copies must be at least 1")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	sc := l.session(sessionID)
	ec := l.event(eventID)

	if sc.limit > 0 && sc.used+copies > sc.limit {
		return &DeniedError{Constraint: ConstraintSession, Limit: sc.limit, Used: sc.used, Requested: copies}
	}
	if ec.limit > 0 && ec.used+copies > ec.limit {
		return &DeniedError{Constraint: ConstraintEvent, Limit: ec.limit, Used: ec.used, Requested: copies}
	}

	sc.used += copies
	ec.used += copies
	return nil
}

// Refund returns copies to both counters, flooring at zero.
func (l *Ledger) Refund(sessionID, eventID string, copies int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range []*counter{l.session(sessionID), l.event(eventID)} {
		c.used -= copies
		if c.used < 0 {
			c.used = 0
		}
	}
}

// TryReserve is Reserve with a handle: the returned Reservation releases
// through this ledger.
func (l *Ledger) TryReserve(sessionID, eventID string, copies int) (Reservation, error) {
	if err := l.Reserve(sessionID, eventID, copies); err != nil {
		return nil, err
	}
	return &reservation{
		release: func() { l.Refund(sessionID, eventID, copies) },
	}, nil
}

type reservation struct {
	once    sync.Once
	release func()
}

func (r *reservation) Commit()  { r.once.Do(func() {}) }
func (r *reservation) Release() { r.once.Do(r.release) }

// NewReservation wraps a release func in an idempotent Reservation. Used
// by the replicated ledger adapter.
func NewReservation(release func()) Reservation {
	return &reservation{release: release}
}

// SetLimits installs new default limits and applies them to counters that
// already exist. Called when an event is configured or reconfigured.
func (l *Ledger) SetLimits(sessionLimit, eventLimit int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessionLimit = sessionLimit
	l.eventLimit = eventLimit
	for _, c := range l.sessions {
		c.limit = sessionLimit
	}
	for _, c := range l.events {
		c.limit = eventLimit
	}
	return nil
}

// ResetSession zeroes a session's usage, e.g. when a new guest session
// starts under an id that was seen before.
func (l *Ledger) ResetSession(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session(id).used = 0
	return nil
}

// ResetEvent zeroes an event's usage.
func (l *Ledger) ResetEvent(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.event(id).used = 0
	return nil
}

// RemainingSession returns prints left for a session; 0 means unlimited.
func (l *Ledger) RemainingSession(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session(id).remaining()
}

// RemainingEvent returns prints left for an event; 0 means unlimited.
func (l *Ledger) RemainingEvent(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.event(id).remaining()
}

// CounterState is the serializable state of one counter.
type CounterState struct {
	Limit int `json:"limit"`
	Used  int `json:"used"`
}

// State is the full serializable ledger state, used by the replicated
// state machine's snapshots.
type State struct {
	SessionLimit int                     `json:"session_limit"`
	EventLimit   int                     `json:"event_limit"`
	Sessions     map[string]CounterState `json:"sessions"`
	Events       map[string]CounterState `json:"events"`
}

// Snapshot copies the ledger state.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := State{
		SessionLimit: l.sessionLimit,
		EventLimit:   l.eventLimit,
		Sessions:     make(map[string]CounterState, len(l.sessions)),
		Events:       make(map[string]CounterState, len(l.events)),
	}
	for id, c := range l.sessions {
		st.Sessions[id] = CounterState{Limit: c.limit, Used: c.used}
	}
	for id, c := range l.events {
		st.Events[id] = CounterState{Limit: c.limit, Used: c.used}
	}
	return st
}

// Restore replaces the ledger state.
func (l *Ledger) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessionLimit = st.SessionLimit
	l.eventLimit = st.EventLimit
	l.sessions = make(map[string]*counter, len(st.Sessions))
	for id, c := range st.Sessions {
		l.sessions[id] = &counter{limit: c.Limit, used: c.Used}
	}
	l.events = make(map[string]*counter, len(st.Events))
	for id, c := range st.Events {
		l.events[id] = &counter{limit: c.Limit, used: c.Used}
	}
}
