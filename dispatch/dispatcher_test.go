package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boothworks/printfleet/pool"
	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/profile"
	"github.com/boothworks/printfleet/quota"
	"github.com/boothworks/printfleet/spool"
)

type testRig struct {
	dispatcher *Dispatcher
	spooler    *spool.Memory
	profiles   *profile.MemStore
	ledger     *quota.Ledger
	updates    []print.Job
}

func newRig(t *testing.T, strategy pool.StrategyKind, sessionLimit, eventLimit int, members ...string) *testRig {
	t.Helper()

	p, err := pool.New(pool.Config{
		Format:        print.FormatStandard,
		Strategy:      strategy,
		Members:       members,
		EnablePooling: true,
	})
	require.NoError(t, err)

	rig := &testRig{
		spooler:  spool.NewMemory(),
		profiles: profile.NewMemStore(),
		ledger:   quota.NewLedger(sessionLimit, eventLimit),
	}
	rig.dispatcher = New(Config{
		Pools:          map[print.Format]*pool.Pool{print.FormatStandard: p},
		Profiles:       rig.profiles,
		Quota:          rig.ledger,
		Spooler:        rig.spooler,
		Driver:         rig.spooler,
		AttemptTimeout: 200 * time.Millisecond,
		Notify:         func(j print.Job) { rig.updates = append(rig.updates, j) },
	})
	return rig
}

func (r *testRig) dispatch(t *testing.T, session string) *print.Job {
	t.Helper()
	job := print.NewJob("/tmp/shot.png", 1200, 1800, session, "e1", 1)
	return r.dispatcher.Dispatch(context.Background(), job)
}

func TestRoundRobinAlternatesAcrossJobs(t *testing.T) {
	rig := newRig(t, pool.RoundRobin, 0, 0, "printer1", "printer2")

	for i := 0; i < 4; i++ {
		job := rig.dispatch(t, "s1")
		require.Equal(t, print.StateCompleted, job.State)
	}

	assert.Len(t, rig.spooler.JobsFor("printer1"), 2)
	assert.Len(t, rig.spooler.JobsFor("printer2"), 2)

	order := rig.spooler.Jobs()
	assert.Equal(t, "printer1", order[0].Printer)
	assert.Equal(t, "printer2", order[1].Printer)
	assert.Equal(t, "printer1", order[2].Printer)
}

func TestFailoverRetriesOnNextMember(t *testing.T) {
	rig := newRig(t, pool.FailoverOnly, 0, 0, "printer1", "printer2")

	rig.spooler.Break("printer1", nil)

	job := rig.dispatch(t, "s1")
	require.Equal(t, print.StateCompleted, job.State)

	// One failed attempt on the primary, then success on the backup.
	require.Len(t, job.Attempts, 2)
	assert.Equal(t, "printer1", job.Attempts[0].Printer)
	assert.Equal(t, string(print.ReasonSpoolSubmitFailed), job.Attempts[0].Outcome)
	assert.Equal(t, "printer2", job.Attempts[1].Printer)
	assert.Equal(t, print.AttemptOutcomeOK, job.Attempts[1].Outcome)

	// Second consecutive failure quarantines the primary; later jobs skip
	// it without contacting it at all.
	job = rig.dispatch(t, "s1")
	require.Equal(t, print.StateCompleted, job.State)

	before := len(rig.spooler.JobsFor("printer2"))
	rig.spooler.Restore("printer1")

	job = rig.dispatch(t, "s1")
	require.Equal(t, print.StateCompleted, job.State)
	assert.Len(t, job.Attempts, 1)
	assert.Equal(t, "printer2", job.Attempts[0].Printer)
	assert.Len(t, rig.spooler.JobsFor("printer2"), before+1)

	st := rig.dispatcher.Pool(print.FormatStandard).Status()
	assert.Equal(t, pool.Quarantined, st.Members[0].Health)
}

func TestAllMembersFailedReleasesQuota(t *testing.T) {
	rig := newRig(t, pool.RoundRobin, 5, 0, "printer1", "printer2")

	rig.spooler.Break("printer1", nil)
	rig.spooler.Break("printer2", nil)

	job := rig.dispatch(t, "s1")
	assert.Equal(t, print.StateFailed, job.State)
	assert.Equal(t, print.ReasonAllPrintersFailed, job.Reason)
	assert.Len(t, job.Attempts, 2)

	// The reserved copies must come back so the guest can retry.
	assert.Equal(t, 5, rig.ledger.RemainingSession("s1"))
}

func TestQuotaDenialNeverContactsPrinters(t *testing.T) {
	rig := newRig(t, pool.RoundRobin, 2, 0, "printer1")

	for i := 0; i < 2; i++ {
		job := rig.dispatch(t, "s1")
		require.Equal(t, print.StateCompleted, job.State)
	}

	before := len(rig.spooler.Jobs())
	job := rig.dispatch(t, "s1")
	assert.Equal(t, print.StateFailed, job.State)
	assert.Equal(t, print.ReasonQuotaExceeded, job.Reason)
	assert.Empty(t, job.Attempts)
	assert.Len(t, rig.spooler.Jobs(), before, "denied job must not touch the spooler")

	// A fresh session is unaffected.
	job = rig.dispatch(t, "s2")
	assert.Equal(t, print.StateCompleted, job.State)
}

// unavailableQuota fails every reservation with an infrastructure error,
// the way the replicated ledger does when the cluster has no leader.
type unavailableQuota struct{ err error }

func (q unavailableQuota) TryReserve(sessionID, eventID string, copies int) (quota.Reservation, error) {
	return nil, q.err
}

func TestQuotaInfrastructureFailureIsNotADenial(t *testing.T) {
	p, err := pool.New(pool.Config{
		Format:        print.FormatStandard,
		Strategy:      pool.RoundRobin,
		Members:       []string{"printer1"},
		EnablePooling: true,
	})
	require.NoError(t, err)

	mem := spool.NewMemory()
	d := New(Config{
		Pools:    map[print.Format]*pool.Pool{print.FormatStandard: p},
		Profiles: profile.NewMemStore(),
		Quota:    unavailableQuota{err: errors.New("no leader elected")},
		Spooler:  mem,
		Driver:   mem,
	})

	job := print.NewJob("/tmp/shot.png", 1200, 1800, "s1", "e1", 1)
	got := d.Dispatch(context.Background(), job)

	assert.Equal(t, print.StateFailed, got.State)
	assert.Equal(t, print.ReasonQuotaUnavailable, got.Reason,
		"a ledger failure must not read as the guest hitting their limit")
	assert.Empty(t, mem.Jobs())
}

func TestProfileAppliedBeforeSubmit(t *testing.T) {
	rig := newRig(t, pool.FailoverOnly, 0, 0, "printer1")

	blob := []byte("CutMedia=2inch ScalingFactor=102")
	require.NoError(t, rig.profiles.Set(print.Profile{
		Printer:     "printer1",
		Format:      print.FormatStandard,
		DriverState: blob,
	}))

	job := rig.dispatch(t, "s1")
	require.Equal(t, print.StateCompleted, job.State)
	assert.False(t, job.UnverifiedAlignment)
	assert.Equal(t, blob, rig.spooler.Applied("printer1"))
}

func TestMissingProfileFlagsUnverifiedAlignment(t *testing.T) {
	rig := newRig(t, pool.FailoverOnly, 0, 0, "printer1")

	job := rig.dispatch(t, "s1")
	require.Equal(t, print.StateCompleted, job.State, "missing profile must not block the print")
	assert.True(t, job.UnverifiedAlignment)
	assert.Len(t, rig.spooler.JobsFor("printer1"), 1)
}

func TestWedgedPrinterTimesOutAndFailsOver(t *testing.T) {
	rig := newRig(t, pool.FailoverOnly, 0, 0, "printer1", "printer2")

	rig.spooler.Hang("printer1")

	job := rig.dispatch(t, "s1")
	require.Equal(t, print.StateCompleted, job.State)
	require.Len(t, job.Attempts, 2)
	assert.Equal(t, string(print.ReasonSpoolTimeout), job.Attempts[0].Outcome)
	assert.Equal(t, "printer2", job.Attempts[1].Printer)
}

func TestCancelledBeforeDispatchReleasesQuota(t *testing.T) {
	rig := newRig(t, pool.RoundRobin, 3, 0, "printer1")

	job := print.NewJob("/tmp/shot.png", 1200, 1800, "s1", "e1", 1)
	job.Cancel()

	got := rig.dispatcher.Dispatch(context.Background(), job)
	assert.Equal(t, print.StateFailed, got.State)
	assert.Equal(t, print.ReasonCancelled, got.Reason)
	assert.Empty(t, rig.spooler.Jobs())
	assert.Equal(t, 3, rig.ledger.RemainingSession("s1"))
}

func TestStripJobWithoutPoolFails(t *testing.T) {
	rig := newRig(t, pool.RoundRobin, 0, 0, "printer1")

	job := print.NewJob("/tmp/strip.png", 1200, 3600, "s1", "e1", 1)
	got := rig.dispatcher.Dispatch(context.Background(), job)

	assert.Equal(t, print.FormatStrip, got.Format)
	assert.Equal(t, print.StateFailed, got.State)
	assert.Equal(t, print.ReasonAllPrintersFailed, got.Reason)
}

func TestNotifierSeesEveryTransition(t *testing.T) {
	rig := newRig(t, pool.RoundRobin, 0, 0, "printer1")

	rig.dispatch(t, "s1")

	require.NotEmpty(t, rig.updates)
	states := make([]print.JobState, 0, len(rig.updates))
	for _, u := range rig.updates {
		states = append(states, u.State)
	}
	assert.Equal(t, []print.JobState{
		print.StateClassified,
		print.StateQuotaReserved,
		print.StateDispatching,
		print.StatePrinting,
		print.StateCompleted,
	}, states)
	assert.True(t, rig.updates[len(rig.updates)-1].State.Terminal())
}
