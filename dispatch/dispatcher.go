// Package dispatch routes print jobs to pool members: classify, reserve
// quota, select a printer, restore its driver profile, submit, and fail
// over to the next member when a printer misbehaves.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boothworks/printfleet/pool"
	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/profile"
	"github.com/boothworks/printfleet/quota"
	"github.com/boothworks/printfleet/spool"
)

// QuotaReserver is the slice of the quota ledger the dispatcher needs.
type QuotaReserver interface {
	TryReserve(sessionID, eventID string, copies int) (quota.Reservation, error)
}

// Notifier receives a snapshot of the job after every state transition.
// Called from the dispatching goroutine; implementations must not block.
type Notifier func(print.Job)

// Config wires a Dispatcher.
type Config struct {
	Pools          map[print.Format]*pool.Pool
	Profiles       profile.Store
	Quota          QuotaReserver
	Spooler        spool.Spooler
	Driver         spool.DriverStateProvider
	AttemptTimeout time.Duration
	Metrics        *Metrics
	Logger         *slog.Logger
	Notify         Notifier
}

// Dispatcher runs one job at a time per calling goroutine; all shared
// state lives in the pool and the ledger, which guard themselves.
type Dispatcher struct {
	pools          map[print.Format]*pool.Pool
	profiles       profile.Store
	quota          QuotaReserver
	spooler        spool.Spooler
	driver         spool.DriverStateProvider
	attemptTimeout time.Duration
	metrics        *Metrics
	log            *slog.Logger
	notify         Notifier
}

func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		pools:          cfg.Pools,
		profiles:       cfg.Profiles,
		quota:          cfg.Quota,
		spooler:        cfg.Spooler,
		driver:         cfg.Driver,
		attemptTimeout: cfg.AttemptTimeout,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		notify:         cfg.Notify,
	}
	if d.attemptTimeout <= 0 {
		d.attemptTimeout = spool.DefaultTimeout
	}
	if d.metrics == nil {
		d.metrics = NewMetrics()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.notify == nil {
		d.notify = func(print.Job) {}
	}
	return d
}

// Metrics returns the dispatcher's metrics for mounting at /metrics.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// SetNotify replaces the transition notifier. Must be called before the
// first Dispatch; the print service uses it to interpose its job
// registry in front of the configured notifier.
func (d *Dispatcher) SetNotify(n Notifier) {
	if n == nil {
		n = func(print.Job) {}
	}
	d.notify = n
}

// Pool returns the pool serving a format, or nil.
func (d *Dispatcher) Pool(format print.Format) *pool.Pool {
	return d.pools[format]
}

// Pools returns the status of every configured pool.
func (d *Dispatcher) Pools() []pool.Status {
	out := make([]pool.Status, 0, len(d.pools))
	for _, f := range []print.Format{print.FormatStandard, print.FormatStrip} {
		if p, ok := d.pools[f]; ok {
			out = append(out, p.Status())
		}
	}
	return out
}

// Dispatch drives job to a terminal state, mutating it in place and
// returning it. Failures local to one printer are retried on the next
// pool member, at most one pass over the pool; only quota denial and
// pool exhaustion surface to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, job *print.Job) *print.Job {
	log := d.log.With("job", job.ID, "session", job.SessionID, "event", job.EventID)

	job.Format = print.Classify(job.Width, job.Height)
	d.transition(job, print.StateClassified)

	res, err := d.quota.TryReserve(job.SessionID, job.EventID, job.Copies)
	if err != nil {
		var denied *quota.DeniedError
		if errors.As(err, &denied) {
			d.metrics.QuotaDenied.WithLabelValues(string(denied.Constraint)).Inc()
			log.Info("quota denied", "constraint", denied.Constraint, "limit", denied.Limit, "used", denied.Used)
			return d.fail(job, print.ReasonQuotaExceeded)
		}
		// The ledger itself failed (e.g. the replicated log has no
		// leader). The guest did not hit a limit; say so.
		log.Error("quota reservation failed", "err", err)
		return d.fail(job, print.ReasonQuotaUnavailable)
	}
	d.transition(job, print.StateQuotaReserved)

	if job.Cancelled() {
		res.Release()
		return d.fail(job, print.ReasonCancelled)
	}

	p := d.pools[job.Format]
	if p == nil {
		log.Error("no pool configured", "format", job.Format)
		res.Release()
		return d.fail(job, print.ReasonAllPrintersFailed)
	}

	// One pass over the pool. A member that fails is demoted and excluded
	// for the rest of this job; copies stay charged until the whole pass
	// fails.
	var tried []string
	for attempt := 0; attempt < p.Size(); attempt++ {
		if job.Cancelled() {
			res.Release()
			return d.fail(job, print.ReasonCancelled)
		}
		d.transition(job, print.StateDispatching)

		printer, err := p.Select(tried...)
		if err != nil {
			log.Warn("no routable members left", "format", job.Format, "attempt", attempt)
			break
		}

		reason, err := d.attempt(ctx, job, printer)
		d.updateHealthGauge(p)
		if err == nil {
			job.RecordAttempt(printer, print.AttemptOutcomeOK, nil)
			d.metrics.Attempts.WithLabelValues(printer, print.AttemptOutcomeOK).Inc()
			res.Commit()
			d.finish(job, print.StateCompleted, print.ReasonNone)
			log.Info("job completed", "printer", printer, "format", job.Format,
				"copies", job.Copies, "attempts", len(job.Attempts))
			return job
		}

		job.RecordAttempt(printer, string(reason), err)
		d.metrics.Attempts.WithLabelValues(printer, string(reason)).Inc()
		log.Warn("attempt failed", "printer", printer, "reason", reason, "err", err)
		tried = append(tried, printer)
		d.transition(job, print.StateRetrying)
	}

	res.Release()
	log.Error("all printers failed", "format", job.Format, "attempts", job.AttemptSummary())
	return d.fail(job, print.ReasonAllPrintersFailed)
}

// attempt runs one member attempt: restore the driver profile, then
// submit. The member is marked failed for any error, including timeout,
// and marked successful only when the spooler accepted the job.
func (d *Dispatcher) attempt(ctx context.Context, job *print.Job, printer string) (print.FailureReason, error) {
	p := d.pools[job.Format]

	prof, err := d.profiles.Get(printer, job.Format)
	switch {
	case err == nil:
		applyErr := spool.Guard(ctx, d.attemptTimeout, func(ctx context.Context) error {
			return d.driver.Apply(ctx, printer, prof.DriverState)
		})
		if applyErr != nil {
			p.MarkFailure(printer)
			if errors.Is(applyErr, spool.ErrTimeout) {
				return print.ReasonSpoolTimeout, applyErr
			}
			return print.ReasonDriverApplyFailed, applyErr
		}
	case errors.Is(err, profile.ErrNotFound):
		// No captured profile: print anyway on whatever state the OS
		// driver holds, but flag the job so the operator knows the
		// alignment was never verified.
		job.UnverifiedAlignment = true
		d.log.Warn("no driver profile, printing with OS defaults",
			"printer", printer, "format", job.Format, "job", job.ID)
	default:
		job.UnverifiedAlignment = true
		d.log.Error("profile store read failed, printing with OS defaults",
			"printer", printer, "format", job.Format, "err", err)
	}

	d.transition(job, print.StatePrinting)

	var handle string
	submitErr := spool.Guard(ctx, d.attemptTimeout, func(ctx context.Context) error {
		h, err := d.spooler.Submit(ctx, printer, job.ImagePath, job.Copies)
		handle = h
		return err
	})
	if submitErr != nil {
		p.MarkFailure(printer)
		if errors.Is(submitErr, spool.ErrTimeout) {
			return print.ReasonSpoolTimeout, submitErr
		}
		return print.ReasonSpoolSubmitFailed, fmt.Errorf("submit to %s: %w", printer, submitErr)
	}

	p.MarkSuccess(printer)
	d.log.Debug("spooler accepted job", "printer", printer, "handle", handle)
	return print.ReasonNone, nil
}

func (d *Dispatcher) transition(job *print.Job, state print.JobState) {
	job.State = state
	d.notify(job.Snapshot())
}

func (d *Dispatcher) finish(job *print.Job, state print.JobState, reason print.FailureReason) {
	job.State = state
	job.Reason = reason
	job.FinishedAt = time.Now()
	d.metrics.JobsFinished.WithLabelValues(job.Format.String(), state.String(), string(reason)).Inc()
	d.notify(job.Snapshot())
}

func (d *Dispatcher) fail(job *print.Job, reason print.FailureReason) *print.Job {
	d.finish(job, print.StateFailed, reason)
	return job
}

func (d *Dispatcher) updateHealthGauge(p *pool.Pool) {
	st := p.Status()
	for _, m := range st.Members {
		d.metrics.MemberHealth.WithLabelValues(st.Format.String(), m.Name).Set(float64(m.Health))
	}
}
