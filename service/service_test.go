package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boothworks/printfleet/dispatch"
	"github.com/boothworks/printfleet/pool"
	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/profile"
	"github.com/boothworks/printfleet/quota"
	"github.com/boothworks/printfleet/spool"
)

func newTestService(t *testing.T, sessionLimit, eventLimit int) (*Service, *spool.Memory) {
	t.Helper()

	standard, err := pool.New(pool.Config{
		Format:        print.FormatStandard,
		Strategy:      pool.RoundRobin,
		Members:       []string{"printer1", "printer2"},
		EnablePooling: true,
	})
	require.NoError(t, err)
	strip, err := pool.New(pool.Config{
		Format:        print.FormatStrip,
		Strategy:      pool.FailoverOnly,
		Members:       []string{"strip1"},
		EnablePooling: true,
	})
	require.NoError(t, err)

	mem := spool.NewMemory()
	profiles := profile.NewMemStore()
	ledger := quota.NewLedger(sessionLimit, eventLimit)

	d := dispatch.New(dispatch.Config{
		Pools: map[print.Format]*pool.Pool{
			print.FormatStandard: standard,
			print.FormatStrip:    strip,
		},
		Profiles:       profiles,
		Quota:          ledger,
		Spooler:        mem,
		Driver:         mem,
		AttemptTimeout: 200 * time.Millisecond,
	})

	svc := New(Config{
		Dispatcher: d,
		Profiles:   profiles,
		Quota:      ledger,
		Driver:     mem,
	})
	t.Cleanup(svc.Close)
	return svc, mem
}

func stdRequest(session string) Request {
	return Request{
		ImagePath: "/tmp/shot.png",
		Width:     1200,
		Height:    1800,
		SessionID: session,
		EventID:   "e1",
		Copies:    1,
	}
}

func TestSubmitCompletes(t *testing.T) {
	svc, mem := newTestService(t, 0, 0)

	res, err := svc.Submit(context.Background(), stdRequest("s1"))
	require.NoError(t, err)
	assert.Equal(t, print.StateCompleted, res.State)
	assert.Equal(t, print.FormatStandard, res.Format)
	assert.NotEmpty(t, res.JobID)
	assert.Len(t, mem.Jobs(), 1)
}

func TestSubmitClassifiesStrips(t *testing.T) {
	svc, mem := newTestService(t, 0, 0)

	req := stdRequest("s1")
	req.Width, req.Height = 1200, 3600
	res, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, print.FormatStrip, res.Format)
	assert.Len(t, mem.JobsFor("strip1"), 1)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService(t, 0, 0)

	bad := []Request{
		{},
		{ImagePath: "/tmp/x.png", Width: 0, Height: 100, SessionID: "s", EventID: "e", Copies: 1},
		{ImagePath: "/tmp/x.png", Width: 100, Height: 100, SessionID: "s", EventID: "e", Copies: 0},
		{ImagePath: "/tmp/x.png", Width: 100, Height: 100, Copies: 1},
	}
	for _, req := range bad {
		_, err := svc.Submit(context.Background(), req)
		assert.Error(t, err)
	}
}

func TestSubmitQuotaDenied(t *testing.T) {
	svc, _ := newTestService(t, 1, 0)

	res, err := svc.Submit(context.Background(), stdRequest("s1"))
	require.NoError(t, err)
	require.Equal(t, print.StateCompleted, res.State)
	assert.Equal(t, 0, svc.RemainingSession("s1"))

	res, err = svc.Submit(context.Background(), stdRequest("s1"))
	require.NoError(t, err, "quota denial is a job outcome, not a transport error")
	assert.Equal(t, print.StateFailed, res.State)
	assert.Equal(t, print.ReasonQuotaExceeded, res.Reason)
}

func TestNotifierReceivesTransitions(t *testing.T) {
	standard, err := pool.New(pool.Config{
		Format:        print.FormatStandard,
		Strategy:      pool.RoundRobin,
		Members:       []string{"printer1"},
		EnablePooling: true,
	})
	require.NoError(t, err)

	mem := spool.NewMemory()
	profiles := profile.NewMemStore()
	ledger := quota.NewLedger(0, 0)
	d := dispatch.New(dispatch.Config{
		Pools:    map[print.Format]*pool.Pool{print.FormatStandard: standard},
		Profiles: profiles,
		Quota:    ledger,
		Spooler:  mem,
		Driver:   mem,
	})

	var mu sync.Mutex
	var updates []print.Job
	svc := New(Config{
		Dispatcher: d,
		Profiles:   profiles,
		Quota:      ledger,
		Driver:     mem,
		Notify: func(j print.Job) {
			mu.Lock()
			updates = append(updates, j)
			mu.Unlock()
		},
	})
	t.Cleanup(svc.Close)

	res, err := svc.Submit(context.Background(), stdRequest("s1"))
	require.NoError(t, err)
	require.Equal(t, print.StateCompleted, res.State)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates, "every transition must reach the configured notifier")
	assert.Equal(t, print.StateCompleted, updates[len(updates)-1].State)
	for _, u := range updates {
		assert.Equal(t, res.JobID, u.ID)
	}
}

func TestJobObservableWhileDispatching(t *testing.T) {
	svc, mem := newTestService(t, 0, 0)
	mem.Hang("printer1")
	mem.Hang("printer2")

	done := make(chan Result, 1)
	go func() {
		res, _ := svc.Submit(context.Background(), stdRequest("s1"))
		done <- res
	}()

	// The registry is readable while the worker is mid-dispatch.
	require.Eventually(t, func() bool {
		return len(svc.Jobs()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	res := <-done
	assert.Equal(t, print.StateFailed, res.State)

	job, err := svc.Job(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, print.StateFailed, job.State)
	assert.Len(t, job.Attempts, 2)
}

func TestJobAuditTrail(t *testing.T) {
	svc, _ := newTestService(t, 0, 0)

	res, err := svc.Submit(context.Background(), stdRequest("s1"))
	require.NoError(t, err)

	job, err := svc.Job(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, print.StateCompleted, job.State)
	require.Len(t, job.Attempts, 1)
	assert.Equal(t, print.AttemptOutcomeOK, job.Attempts[0].Outcome)

	assert.Len(t, svc.Jobs(), 1)

	_, err = svc.Job("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancelUnknownJob(t *testing.T) {
	svc, _ := newTestService(t, 0, 0)
	assert.ErrorIs(t, svc.Cancel("nope"), ErrJobNotFound)
}

func TestSubmitAfterClose(t *testing.T) {
	svc, _ := newTestService(t, 0, 0)
	svc.Close()

	_, err := svc.Submit(context.Background(), stdRequest("s1"))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestCaptureProfileRoundTrip(t *testing.T) {
	svc, mem := newTestService(t, 0, 0)

	seeded := []byte("CutMedia=2inch OffsetX=-3")
	require.NoError(t, mem.Apply(context.Background(), "strip1", seeded))

	prof, err := svc.CaptureProfile(context.Background(), "strip1", print.FormatStrip)
	require.NoError(t, err)
	assert.Equal(t, seeded, prof.DriverState)
	assert.False(t, prof.CapturedAt.IsZero())

	got, err := svc.Profile("strip1", print.FormatStrip)
	require.NoError(t, err)
	assert.Equal(t, seeded, got.DriverState)
}

func TestCaptureProfileDriverDown(t *testing.T) {
	svc, mem := newTestService(t, 0, 0)
	mem.Break("printer1", nil)

	_, err := svc.CaptureProfile(context.Background(), "printer1", print.FormatStandard)
	assert.Error(t, err)
	_, err = svc.Profile("printer1", print.FormatStandard)
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestApplyProfile(t *testing.T) {
	svc, mem := newTestService(t, 0, 0)

	require.NoError(t, mem.Apply(context.Background(), "printer1", []byte("ScalingFactor=101")))
	_, err := svc.CaptureProfile(context.Background(), "printer1", print.FormatStandard)
	require.NoError(t, err)

	// Drift the live driver state, then restore from the stored profile.
	require.NoError(t, mem.Apply(context.Background(), "printer1", []byte("ScalingFactor=90")))
	require.NoError(t, svc.ApplyProfile(context.Background(), "printer1", print.FormatStandard))
	assert.Equal(t, []byte("ScalingFactor=101"), mem.Applied("printer1"))

	assert.ErrorIs(t, svc.ApplyProfile(context.Background(), "ghost", print.FormatStrip), profile.ErrNotFound)
}

func TestExportImportProfiles(t *testing.T) {
	svc, _ := newTestService(t, 0, 0)

	_, err := svc.CaptureProfile(context.Background(), "printer1", print.FormatStandard)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportProfiles(&buf))

	require.NoError(t, svc.DeleteProfile("printer1", print.FormatStandard))
	assert.Empty(t, svc.Profiles())

	require.NoError(t, svc.ImportProfiles(&buf))
	assert.Len(t, svc.Profiles(), 1)
}

func TestQuotaAdministration(t *testing.T) {
	svc, _ := newTestService(t, 0, 0)

	require.NoError(t, svc.SetQuotaLimits(2, 10))
	assert.Error(t, svc.SetQuotaLimits(-1, 0))

	_, err := svc.Submit(context.Background(), stdRequest("s1"))
	require.NoError(t, err)
	assert.Equal(t, 1, svc.RemainingSession("s1"))
	assert.Equal(t, 9, svc.RemainingEvent("e1"))

	require.NoError(t, svc.ResetSessionQuota("s1"))
	assert.Equal(t, 2, svc.RemainingSession("s1"))

	require.NoError(t, svc.ResetEventQuota("e1"))
	assert.Equal(t, 10, svc.RemainingEvent("e1"))
}

func TestPoolAdministration(t *testing.T) {
	svc, _ := newTestService(t, 0, 0)

	statuses := svc.PoolStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, print.FormatStandard, statuses[0].Format)

	require.NoError(t, svc.QuarantinePoolMember(print.FormatStandard, "printer1"))
	for _, st := range svc.PoolStatus() {
		if st.Format == print.FormatStandard {
			assert.Equal(t, pool.Quarantined, st.Members[0].Health)
		}
	}

	require.NoError(t, svc.ResetPoolMember(print.FormatStandard, "printer1"))
	assert.Error(t, svc.ResetPoolMember(print.FormatStandard, "ghost"))
	assert.Error(t, svc.QuarantinePoolMember(print.Format(9), "printer1"))
}
