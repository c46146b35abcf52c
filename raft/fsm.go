package raft

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/profile"
	"github.com/boothworks/printfleet/quota"
)

// FSM is the replicated state shared by every booth at an event: driver
// profiles and the quota ledger. Commands are deterministic, so a
// reservation that succeeds on the leader succeeds identically on every
// follower, and two booths can never both take the last print.
type FSM struct {
	profiles *profile.MemStore
	ledger   *quota.Ledger
}

// NewFSM creates the state machine with unlimited default quotas; limits
// arrive via a SetLimits command when the event is configured.
func NewFSM() *FSM {
	return &FSM{
		profiles: profile.NewMemStore(),
		ledger:   quota.NewLedger(0, 0),
	}
}

// Profiles exposes the profile store for local reads.
func (f *FSM) Profiles() *profile.MemStore { return f.profiles }

// Ledger exposes the quota ledger for local reads.
func (f *FSM) Ledger() *quota.Ledger { return f.ledger }

// Apply applies a raft log entry. The return value is an error for
// command failures; a quota denial comes back as *quota.DeniedError so
// the caller can tell it apart from infrastructure trouble.
func (f *FSM) Apply(log *raft.Log) interface{} {
	cmd, err := UnmarshalCommand(log.Data)
	if err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	switch cmd.Type {
	case SetProfile:
		if cmd.Profile == nil {
			return fmt.Errorf("set profile: profile is nil")
		}
		return f.profiles.Set(*cmd.Profile)

	case DeleteProfile:
		return f.profiles.Delete(cmd.Printer, cmd.Format)

	case ReserveQuota:
		return f.ledger.Reserve(cmd.SessionID, cmd.EventID, cmd.Copies)

	case ReleaseQuota:
		f.ledger.Refund(cmd.SessionID, cmd.EventID, cmd.Copies)
		return nil

	case SetLimits:
		return f.ledger.SetLimits(cmd.SessionLimit, cmd.EventLimit)

	case ResetSession:
		return f.ledger.ResetSession(cmd.SessionID)

	case ResetEvent:
		return f.ledger.ResetEvent(cmd.EventID)

	default:
		return fmt.Errorf("unknown command type: %s", cmd.Type)
	}
}

// fsmState is the snapshot wire format.
type fsmState struct {
	Profiles []print.Profile `json:"profiles"`
	Quota    quota.State     `json:"quota"`
}

// Snapshot copies the current state for the raft snapshot store.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{state: fsmState{
		Profiles: f.profiles.List(),
		Quota:    f.ledger.Snapshot(),
	}}, nil
}

// Restore replaces the state from a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var st fsmState
	if err := json.NewDecoder(rc).Decode(&st); err != nil {
		return fmt.Errorf("decode fsm snapshot: %w", err)
	}
	f.profiles.Replace(st.Profiles)
	f.ledger.Restore(st.Quota)
	return nil
}

type fsmSnapshot struct {
	state fsmState
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.state); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
