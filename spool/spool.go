// Package spool is the boundary to the OS print subsystem: submitting
// jobs to the spooler and capturing/restoring native driver state.
package spool

import (
	"context"
	"errors"
	"time"

	"github.com/boothworks/printfleet/print"
)

// ErrTimeout is returned by Guard when a spooler call outlives its
// budget. The dispatcher treats it exactly like a hard member failure.
var ErrTimeout = errors.New("spool operation timed out")

// DefaultTimeout bounds a single driver-apply or spool-submit call.
const DefaultTimeout = 10 * time.Second

// Spooler submits a rendered image to a named printer. Implementations
// are fallible synchronous calls; callers wrap them with Guard.
type Spooler interface {
	// Submit hands the image to the OS spooler and returns the spooler's
	// job handle. A returned handle means the OS accepted the job; this
	// subsystem does not cancel accepted jobs.
	Submit(ctx context.Context, printer, imagePath string, copies int) (string, error)
}

// DriverState is a captured native driver configuration plus the fields
// parsed out of it for display.
type DriverState struct {
	Raw        []byte
	CutEnabled bool
	Alignment  print.Alignment
}

// DriverStateProvider captures and restores a printer's native driver
// configuration. The blob is opaque to everything above this interface,
// which is what keeps the routing and pooling logic platform independent.
type DriverStateProvider interface {
	Capture(ctx context.Context, printer string, format print.Format) (DriverState, error)
	Apply(ctx context.Context, printer string, raw []byte) error
}

// Guard runs op with a hard deadline. The deadline holds even if op
// ignores its context: Guard returns ErrTimeout and leaves the goroutine
// to finish in the background, since a wedged driver call can not be
// interrupted from here anyway.
func Guard(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
