package raft

import (
	"bytes"
	"errors"
	"io"
	"testing"

	hraft "github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/quota"
)

func apply(t *testing.T, f *FSM, cmd Command) interface{} {
	t.Helper()
	data, err := cmd.Marshal()
	require.NoError(t, err)
	return f.Apply(&hraft.Log{Data: data})
}

func TestApplySetAndDeleteProfile(t *testing.T) {
	f := NewFSM()

	prof := print.Profile{
		Printer:     "dnp-ds620",
		Format:      print.FormatStrip,
		DriverState: []byte{0x1b, 0x40, 0x00},
		CutEnabled:  true,
	}
	res := apply(t, f, Command{Type: SetProfile, Profile: &prof})
	assert.Nil(t, res)

	got, err := f.Profiles().Get("dnp-ds620", print.FormatStrip)
	require.NoError(t, err)
	assert.Equal(t, prof.DriverState, got.DriverState)

	res = apply(t, f, Command{Type: DeleteProfile, Printer: "dnp-ds620", Format: print.FormatStrip})
	assert.Nil(t, res)
	_, err = f.Profiles().Get("dnp-ds620", print.FormatStrip)
	assert.Error(t, err)
}

func TestApplySetProfileNil(t *testing.T) {
	f := NewFSM()
	res := apply(t, f, Command{Type: SetProfile})
	err, ok := res.(error)
	require.True(t, ok)
	assert.Error(t, err)
}

func TestApplyQuotaCommands(t *testing.T) {
	f := NewFSM()

	res := apply(t, f, Command{Type: SetLimits, SessionLimit: 2, EventLimit: 10})
	assert.Nil(t, res)

	res = apply(t, f, Command{Type: ReserveQuota, SessionID: "s1", EventID: "e1", Copies: 2})
	assert.Nil(t, res)
	assert.Equal(t, 0, f.Ledger().RemainingSession("s1"))

	// Denials come back as *quota.DeniedError, not an opaque failure.
	res = apply(t, f, Command{Type: ReserveQuota, SessionID: "s1", EventID: "e1", Copies: 1})
	err, ok := res.(error)
	require.True(t, ok)
	var denied *quota.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, quota.ConstraintSession, denied.Constraint)

	res = apply(t, f, Command{Type: ReleaseQuota, SessionID: "s1", EventID: "e1", Copies: 2})
	assert.Nil(t, res)
	assert.Equal(t, 2, f.Ledger().RemainingSession("s1"))

	res = apply(t, f, Command{Type: ReserveQuota, SessionID: "s1", EventID: "e1", Copies: 1})
	assert.Nil(t, res)
	res = apply(t, f, Command{Type: ResetSession, SessionID: "s1"})
	assert.Nil(t, res)
	assert.Equal(t, 2, f.Ledger().RemainingSession("s1"))

	res = apply(t, f, Command{Type: ResetEvent, EventID: "e1"})
	assert.Nil(t, res)
	assert.Equal(t, 10, f.Ledger().RemainingEvent("e1"))
}

func TestApplyUnknownCommand(t *testing.T) {
	f := NewFSM()
	res := apply(t, f, Command{Type: "DROP_TABLES"})
	err, ok := res.(error)
	require.True(t, ok)
	assert.Error(t, err)
}

func TestApplyGarbageEntry(t *testing.T) {
	f := NewFSM()
	res := f.Apply(&hraft.Log{Data: []byte("{not json")})
	err, ok := res.(error)
	require.True(t, ok)
	assert.Error(t, err)
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }
func (s *memorySink) Close() error  { return nil }

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src := NewFSM()

	apply(t, src, Command{Type: SetLimits, SessionLimit: 3, EventLimit: 9})
	apply(t, src, Command{Type: ReserveQuota, SessionID: "s1", EventID: "e1", Copies: 2})
	apply(t, src, Command{Type: SetProfile, Profile: &print.Profile{
		Printer:     "hiti-p525",
		Format:      print.FormatStandard,
		DriverState: []byte{0x00, 0xff, 0x10},
	}})

	snap, err := src.Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	assert.False(t, sink.cancelled)

	dst := NewFSM()
	require.NoError(t, dst.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	got, err := dst.Profiles().Get("hiti-p525", print.FormatStandard)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, got.DriverState)

	assert.Equal(t, 1, dst.Ledger().RemainingSession("s1"))
	assert.Equal(t, 7, dst.Ledger().RemainingEvent("e1"))
	assert.Equal(t, 3, dst.Ledger().RemainingSession("fresh"))
}

func TestRestoreRejectsGarbage(t *testing.T) {
	f := NewFSM()
	err := f.Restore(io.NopCloser(bytes.NewReader([]byte("not a snapshot"))))
	assert.Error(t, err)
}

func TestCommandRoundTrip(t *testing.T) {
	in := Command{Type: ReserveQuota, SessionID: "s1", EventID: "e1", Copies: 3}
	data, err := in.Marshal()
	require.NoError(t, err)

	out, err := UnmarshalCommand(data)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}
