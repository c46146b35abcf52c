package raft

import (
	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/profile"
	"github.com/boothworks/printfleet/quota"
)

// Quota is the replicated quota ledger: writes go through the raft log,
// reads come from the local state machine. Implements the service's
// Quota interface.
type Quota struct {
	node *Node
}

func NewQuota(node *Node) *Quota {
	return &Quota{node: node}
}

func (q *Quota) TryReserve(sessionID, eventID string, copies int) (quota.Reservation, error) {
	err := q.node.Apply(&Command{
		Type:      ReserveQuota,
		SessionID: sessionID,
		EventID:   eventID,
		Copies:    copies,
	})
	if err != nil {
		return nil, err
	}
	return quota.NewReservation(func() {
		// Best effort: if the release command can not replicate the
		// copies stay charged, which errs on the side of not letting a
		// shared limit be exceeded.
		_ = q.node.Apply(&Command{
			Type:      ReleaseQuota,
			SessionID: sessionID,
			EventID:   eventID,
			Copies:    copies,
		})
	}), nil
}

func (q *Quota) SetLimits(sessionLimit, eventLimit int) error {
	return q.node.Apply(&Command{
		Type:         SetLimits,
		SessionLimit: sessionLimit,
		EventLimit:   eventLimit,
	})
}

func (q *Quota) ResetSession(id string) error {
	return q.node.Apply(&Command{Type: ResetSession, SessionID: id})
}

func (q *Quota) ResetEvent(id string) error {
	return q.node.Apply(&Command{Type: ResetEvent, EventID: id})
}

func (q *Quota) RemainingSession(id string) int {
	return q.node.FSM().Ledger().RemainingSession(id)
}

func (q *Quota) RemainingEvent(id string) int {
	return q.node.FSM().Ledger().RemainingEvent(id)
}

// Profiles is the replicated driver profile store. A profile captured on
// one booth is usable by every booth driving the same printer.
type Profiles struct {
	node *Node
}

func NewProfiles(node *Node) *Profiles {
	return &Profiles{node: node}
}

var _ profile.Store = (*Profiles)(nil)

func (p *Profiles) Get(printer string, format print.Format) (print.Profile, error) {
	return p.node.FSM().Profiles().Get(printer, format)
}

func (p *Profiles) Set(prof print.Profile) error {
	return p.node.Apply(&Command{Type: SetProfile, Profile: &prof})
}

func (p *Profiles) Delete(printer string, format print.Format) error {
	return p.node.Apply(&Command{Type: DeleteProfile, Printer: printer, Format: format})
}

func (p *Profiles) List() []print.Profile {
	return p.node.FSM().Profiles().List()
}
