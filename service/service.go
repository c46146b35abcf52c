// Package service is the facade the rest of the application talks to:
// synchronous print submission over a bounded worker queue, profile
// capture, quota queries, and pool administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/boothworks/printfleet/dispatch"
	"github.com/boothworks/printfleet/pool"
	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/profile"
	"github.com/boothworks/printfleet/spool"
)

// Quota is the full ledger surface the service needs; satisfied by
// *quota.Ledger locally and by the raft adapter in a cluster.
type Quota interface {
	dispatch.QuotaReserver
	SetLimits(sessionLimit, eventLimit int) error
	ResetSession(id string) error
	ResetEvent(id string) error
	RemainingSession(id string) int
	RemainingEvent(id string) int
}

// ErrJobNotFound is returned by Job and Cancel for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// ErrShuttingDown is returned by Submit after Close.
var ErrShuttingDown = errors.New("print service is shutting down")

// Request is one print submission from the capture flow.
type Request struct {
	ImagePath string `json:"image_path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	Copies    int    `json:"copies"`
}

func (r Request) validate() error {
	switch {
	case r.ImagePath == "":
		return errors.New("image path is required")
	case r.Width <= 0 || r.Height <= 0:
		return fmt.Errorf("invalid image dimensions %dx%d", r.Width, r.Height)
	case r.Copies < 1:
		return fmt.Errorf("copies must be at least 1, got %d", r.Copies)
	case r.SessionID == "" || r.EventID == "":
		return errors.New("session and event ids are required")
	}
	return nil
}

// Result is the synchronous outcome of a submission.
type Result struct {
	JobID               string              `json:"job_id"`
	Format              print.Format        `json:"format"`
	State               print.JobState      `json:"state"`
	Reason              print.FailureReason `json:"reason,omitempty"`
	UnverifiedAlignment bool                `json:"unverified_alignment,omitempty"`
	Attempts            []print.Attempt     `json:"attempts"`
}

func resultOf(job print.Job) Result {
	return Result{
		JobID:               job.ID,
		Format:              job.Format,
		State:               job.State,
		Reason:              job.Reason,
		UnverifiedAlignment: job.UnverifiedAlignment,
		Attempts:            job.Attempts,
	}
}

// Config wires a Service.
type Config struct {
	Dispatcher *dispatch.Dispatcher
	Profiles   profile.Store
	Quota      Quota
	Driver     spool.DriverStateProvider
	// Workers bounds concurrent spool I/O; QueueDepth bounds submissions
	// waiting for a worker. Defaults: 2 and 16.
	Workers    int
	QueueDepth int
	Logger     *slog.Logger
	// Notify receives every job transition, after the internal job
	// registry has been updated.
	Notify dispatch.Notifier
}

type pending struct {
	job  *print.Job
	done chan Result
}

// jobRecord pairs the live job (needed for Cancel) with the latest
// snapshot of it. Reads always go to the snapshot; the live job is only
// ever mutated by the worker goroutine dispatching it.
type jobRecord struct {
	job  *print.Job
	snap print.Job
}

// Service is the print service facade. Submission is synchronous to the
// caller but executes on worker goroutines, so a slow driver or a
// failover pass never runs on the caller's goroutine.
type Service struct {
	dispatcher *dispatch.Dispatcher
	profiles   profile.Store
	quota      Quota
	driver     spool.DriverStateProvider
	log        *slog.Logger

	queue chan *pending
	wg    sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*jobRecord
	closed bool
}

func New(cfg Config) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 16
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		dispatcher: cfg.Dispatcher,
		profiles:   cfg.Profiles,
		quota:      cfg.Quota,
		driver:     cfg.Driver,
		log:        log.With("component", "printservice"),
		queue:      make(chan *pending, depth),
		jobs:       make(map[string]*jobRecord),
	}

	notify := cfg.Notify
	if notify == nil {
		notify = func(print.Job) {}
	}
	s.dispatcher.SetNotify(func(j print.Job) {
		s.track(j)
		notify(j)
	})

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// track refreshes the registry snapshot for a job on every transition,
// before the external notifier sees it.
func (s *Service) track(j print.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[j.ID]; ok {
		rec.snap = j
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for p := range s.queue {
		job := s.dispatcher.Dispatch(context.Background(), p.job)
		p.done <- resultOf(job.Snapshot())
	}
}

// Submit queues a print job and waits for its terminal state. If ctx
// expires first the job keeps running in the background; its outcome
// stays queryable through Job.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	job := print.NewJob(req.ImagePath, req.Width, req.Height, req.SessionID, req.EventID, req.Copies)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrShuttingDown
	}
	s.jobs[job.ID] = &jobRecord{job: job, snap: job.Snapshot()}
	s.mu.Unlock()

	p := &pending{job: job, done: make(chan Result, 1)}
	select {
	case s.queue <- p:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-p.done:
		return res, nil
	case <-ctx.Done():
		s.log.Warn("caller abandoned job before completion", "job", job.ID)
		snap, _ := s.Job(job.ID)
		return resultOf(snap), ctx.Err()
	}
}

// Job returns a snapshot of a submitted job, including its attempt
// history, for the operator's post-event audit.
func (s *Service) Job(id string) (print.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return print.Job{}, ErrJobNotFound
	}
	return rec.snap, nil
}

// Jobs returns snapshots of every job seen since startup.
func (s *Service) Jobs() []print.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]print.Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.snap)
	}
	return out
}

// Cancel requests cancellation of a queued job. A job that already
// reached Printing finishes regardless; the OS spooler owns it by then.
func (s *Service) Cancel(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	rec.job.Cancel()
	return nil
}

// CaptureProfile reads the printer's live driver configuration and
// stores it as the profile for the given format. Invoked when the
// operator finalizes the driver settings dialog.
func (s *Service) CaptureProfile(ctx context.Context, printer string, format print.Format) (print.Profile, error) {
	var ds spool.DriverState
	err := spool.Guard(ctx, spool.DefaultTimeout, func(ctx context.Context) error {
		var err error
		ds, err = s.driver.Capture(ctx, printer, format)
		return err
	})
	if err != nil {
		return print.Profile{}, fmt.Errorf("capture driver state for %s/%s: %w", printer, format, err)
	}

	prof := print.Profile{
		Printer:     printer,
		Format:      format,
		DriverState: ds.Raw,
		CutEnabled:  ds.CutEnabled,
		Alignment:   ds.Alignment,
		CapturedAt:  time.Now(),
	}
	if err := s.profiles.Set(prof); err != nil {
		return print.Profile{}, fmt.Errorf("store profile for %s/%s: %w", printer, format, err)
	}
	s.log.Info("driver profile captured", "printer", printer, "format", format,
		"cut", prof.CutEnabled, "blob_bytes", len(prof.DriverState))
	return prof, nil
}

// ApplyProfile restores a printer's stored driver configuration outside
// the job path, e.g. from the settings screen to verify a calibration.
func (s *Service) ApplyProfile(ctx context.Context, printer string, format print.Format) error {
	prof, err := s.profiles.Get(printer, format)
	if err != nil {
		return err
	}
	return spool.Guard(ctx, spool.DefaultTimeout, func(ctx context.Context) error {
		return s.driver.Apply(ctx, printer, prof.DriverState)
	})
}

// Profile returns the stored profile for a printer+format.
func (s *Service) Profile(printer string, format print.Format) (print.Profile, error) {
	return s.profiles.Get(printer, format)
}

// Profiles lists all stored profiles.
func (s *Service) Profiles() []print.Profile {
	return s.profiles.List()
}

// DeleteProfile removes a stored profile.
func (s *Service) DeleteProfile(printer string, format print.Format) error {
	return s.profiles.Delete(printer, format)
}

// ExportProfiles writes the profile bundle for backup.
func (s *Service) ExportProfiles(w io.Writer) error {
	return profile.ExportAll(w, s.profiles)
}

// ImportProfiles loads a profile bundle, overwriting matching entries.
func (s *Service) ImportProfiles(r io.Reader) error {
	return profile.ImportAll(r, s.profiles)
}

// RemainingSession returns prints left for a session (0 = unlimited).
func (s *Service) RemainingSession(id string) int { return s.quota.RemainingSession(id) }

// RemainingEvent returns prints left for an event (0 = unlimited).
func (s *Service) RemainingEvent(id string) int { return s.quota.RemainingEvent(id) }

// SetQuotaLimits installs session/event limits, applied to existing and
// future counters.
func (s *Service) SetQuotaLimits(sessionLimit, eventLimit int) error {
	if sessionLimit < 0 || eventLimit < 0 {
		return errors.New("quota limits must not be negative")
	}
	return s.quota.SetLimits(sessionLimit, eventLimit)
}

// ResetSessionQuota zeroes a session's usage.
func (s *Service) ResetSessionQuota(id string) error { return s.quota.ResetSession(id) }

// ResetEventQuota zeroes an event's usage.
func (s *Service) ResetEventQuota(id string) error { return s.quota.ResetEvent(id) }

// PoolStatus returns every pool's runtime state.
func (s *Service) PoolStatus() []pool.Status {
	return s.dispatcher.Pools()
}

// ResetPoolMember restores a member to Healthy after the operator has
// dealt with whatever took it down.
func (s *Service) ResetPoolMember(format print.Format, name string) error {
	p := s.dispatcher.Pool(format)
	if p == nil {
		return fmt.Errorf("no pool configured for %s", format)
	}
	return p.Reset(name)
}

// QuarantinePoolMember pulls a member out of routing immediately.
func (s *Service) QuarantinePoolMember(format print.Format, name string) error {
	p := s.dispatcher.Pool(format)
	if p == nil {
		return fmt.Errorf("no pool configured for %s", format)
	}
	return p.Quarantine(name)
}

// Close drains the queue and stops the workers. In-flight jobs finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	s.wg.Wait()
}
