// Package pool routes print jobs across a named, ordered set of printers
// sharing a selection strategy, tracking live health per member.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boothworks/printfleet/print"
)

// Health is a pool member's routing state. One submission failure marks a
// member Suspect; a second consecutive failure inside the cool-down
// window quarantines it. Quarantined members never receive jobs until the
// cool-down elapses or an operator resets them.
type Health uint8

const (
	Healthy Health = iota
	Suspect
	Quarantined
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Suspect:
		return "suspect"
	case Quarantined:
		return "quarantined"
	default:
		return fmt.Sprintf("health(%d)", uint8(h))
	}
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// ErrNoRoutableMembers is returned by Select when every member is
// quarantined.
var ErrNoRoutableMembers = errors.New("no routable pool members")

// DefaultCooldown is how long a quarantined member sits out before it is
// allowed to take jobs again.
const DefaultCooldown = 2 * time.Minute

// Config is the declared shape of a pool, supplied by the settings
// loader at event start. Members are ordered; the first is the primary.
type Config struct {
	Format         print.Format `json:"format"`
	Strategy       StrategyKind `json:"strategy"`
	Members        []string     `json:"members"`
	EnablePooling  bool         `json:"enable_pooling"`
	CooldownSecond int          `json:"cooldown_seconds,omitempty"`
}

type member struct {
	name        string
	health      Health
	inFlight    int
	consecutive int
	lastFailure time.Time
}

// MemberStatus is a read-only view of one member's runtime state.
type MemberStatus struct {
	Name        string    `json:"name"`
	Health      Health    `json:"health"`
	InFlight    int       `json:"in_flight"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Status is a read-only view of a pool.
type Status struct {
	Format   print.Format   `json:"format"`
	Strategy StrategyKind   `json:"strategy"`
	Members  []MemberStatus `json:"members"`
}

// Pool is the runtime pool. All state transitions run under one mutex so
// concurrent Select calls can not hand out the same round-robin slot and
// health transitions are never lost.
type Pool struct {
	mu       sync.Mutex
	format   print.Format
	strategy StrategyKind
	members  []*member
	cursor   int
	cooldown time.Duration

	// now is swapped in tests to drive cool-down expiry.
	now func() time.Time
}

// New builds a pool from its config. With pooling disabled the pool
// degenerates to the primary member only.
func New(cfg Config) (*Pool, error) {
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("pool for %s has no members", cfg.Format)
	}
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	// Validate the declared member list as a whole; a duplicate is a
	// config mistake even when pooling is off and only the primary runs.
	seen := make(map[string]bool, len(cfg.Members))
	for _, n := range cfg.Members {
		if seen[n] {
			return nil, fmt.Errorf("pool for %s lists %s twice", cfg.Format, n)
		}
		seen[n] = true
	}
	names := cfg.Members
	if !cfg.EnablePooling {
		names = names[:1]
	}
	cooldown := DefaultCooldown
	if cfg.CooldownSecond > 0 {
		cooldown = time.Duration(cfg.CooldownSecond) * time.Second
	}
	p := &Pool{
		format:   cfg.Format,
		strategy: cfg.Strategy,
		cooldown: cooldown,
		now:      time.Now,
	}
	for _, n := range names {
		p.members = append(p.members, &member{name: n})
	}
	return p, nil
}

// Format returns the print format this pool serves.
func (p *Pool) Format() print.Format { return p.format }

// Size returns the member count, which is also the dispatcher's attempt
// cap for one job.
func (p *Pool) Size() int { return len(p.members) }

// Select picks the next member per the pool strategy and counts a job in
// flight against it. Members named in exclude are skipped, which is how
// the dispatcher avoids re-trying a member that already failed this job.
// The caller must pair every Select with exactly one MarkSuccess or
// MarkFailure.
func (p *Pool) Select(exclude ...string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recoverExpired()

	var skip map[string]bool
	if len(exclude) > 0 {
		skip = make(map[string]bool, len(exclude))
		for _, n := range exclude {
			skip[n] = true
		}
	}

	m := selectMember(p, skip)
	if m == nil {
		return "", ErrNoRoutableMembers
	}
	m.inFlight++
	return m.name, nil
}

// MarkSuccess records a completed job on a member. A Suspect member that
// prints successfully is restored to Healthy.
func (p *Pool) MarkSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.find(name)
	if m == nil {
		return
	}
	if m.inFlight > 0 {
		m.inFlight--
	}
	m.consecutive = 0
	if m.health == Suspect {
		m.health = Healthy
	}
}

// MarkFailure records a failed attempt. The demotion rule is shared by
// every strategy: first failure makes the member Suspect, a second
// consecutive failure within the cool-down window quarantines it.
func (p *Pool) MarkFailure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.find(name)
	if m == nil {
		return
	}
	if m.inFlight > 0 {
		m.inFlight--
	}
	now := p.now()
	switch m.health {
	case Healthy:
		m.health = Suspect
	case Suspect:
		if now.Sub(m.lastFailure) <= p.cooldown {
			m.health = Quarantined
		}
	}
	m.consecutive++
	m.lastFailure = now
}

// Quarantine demotes a member immediately, bypassing the two-strike rule.
// Used by the operator to pull a printer that is misbehaving in ways the
// spooler does not report, like printing with a color cast.
func (p *Pool) Quarantine(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.find(name)
	if m == nil {
		return fmt.Errorf("no pool member named %s", name)
	}
	m.health = Quarantined
	m.lastFailure = p.now()
	return nil
}

// Reset restores a member to Healthy and clears its failure history.
func (p *Pool) Reset(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.find(name)
	if m == nil {
		return fmt.Errorf("no pool member named %s", name)
	}
	m.health = Healthy
	m.consecutive = 0
	m.lastFailure = time.Time{}
	return nil
}

// Status returns a copy of the pool's runtime state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recoverExpired()

	st := Status{Format: p.format, Strategy: p.strategy}
	for _, m := range p.members {
		st.Members = append(st.Members, MemberStatus{
			Name:        m.name,
			Health:      m.health,
			InFlight:    m.inFlight,
			LastFailure: m.lastFailure,
		})
	}
	return st
}

func (p *Pool) find(name string) *member {
	for _, m := range p.members {
		if m.name == name {
			return m
		}
	}
	return nil
}

// recoverExpired returns quarantined members to Healthy once their
// cool-down has elapsed. Checked lazily on selection rather than on a
// timer; a pool with no traffic has nothing to recover for.
func (p *Pool) recoverExpired() {
	now := p.now()
	for _, m := range p.members {
		if m.health == Quarantined && now.Sub(m.lastFailure) >= p.cooldown {
			m.health = Healthy
			m.consecutive = 0
		}
	}
}

// routable reports whether a member may receive jobs. Suspect members
// still take jobs (single-strike tolerance); quarantined ones do not.
func routable(m *member) bool {
	return m.health != Quarantined
}
