package spool

import (
	"context"
	"fmt"
	"sync"

	"github.com/boothworks/printfleet/print"
)

// Memory is an in-process spooler and driver-state provider. It backs the
// -spooler=memory development mode (running the full pipeline on a laptop
// with no printers attached) and the package tests. Printers can be
// failed on demand to exercise failover.
type Memory struct {
	mu      sync.Mutex
	seq     int
	jobs    []MemoryJob
	applied map[string][]byte
	broken  map[string]error
	// block, when set, makes calls for that printer hang until the
	// context is cancelled, to simulate a wedged driver.
	block map[string]bool
}

// MemoryJob records one accepted submission.
type MemoryJob struct {
	Handle    string
	Printer   string
	ImagePath string
	Copies    int
}

func NewMemory() *Memory {
	return &Memory{
		applied: make(map[string][]byte),
		broken:  make(map[string]error),
		block:   make(map[string]bool),
	}
}

// Break makes every call for the printer fail with err until Restore.
func (m *Memory) Break(printer string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("printer %s unreachable", printer)
	}
	m.broken[printer] = err
}

// Restore clears a Break or Hang.
func (m *Memory) Restore(printer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.broken, printer)
	delete(m.block, printer)
}

// Hang makes calls for the printer block until their context expires.
func (m *Memory) Hang(printer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block[printer] = true
}

func (m *Memory) check(ctx context.Context, printer string) error {
	m.mu.Lock()
	err := m.broken[printer]
	blocked := m.block[printer]
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *Memory) Submit(ctx context.Context, printer, imagePath string, copies int) (string, error) {
	if err := m.check(ctx, printer); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	job := MemoryJob{
		Handle:    fmt.Sprintf("%s-%d", printer, m.seq),
		Printer:   printer,
		ImagePath: imagePath,
		Copies:    copies,
	}
	m.jobs = append(m.jobs, job)
	return job.Handle, nil
}

func (m *Memory) Capture(ctx context.Context, printer string, format print.Format) (DriverState, error) {
	if err := m.check(ctx, printer); err != nil {
		return DriverState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.applied[printer]
	if !ok {
		raw = []byte(fmt.Sprintf("printer=%s format=%s", printer, format))
	}
	return DriverState{
		Raw:        append([]byte(nil), raw...),
		CutEnabled: format == print.FormatStrip,
		Alignment:  print.Alignment{Scale: 1},
	}, nil
}

func (m *Memory) Apply(ctx context.Context, printer string, raw []byte) error {
	if err := m.check(ctx, printer); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[printer] = append([]byte(nil), raw...)
	return nil
}

// Jobs returns a copy of every accepted submission in order.
func (m *Memory) Jobs() []MemoryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MemoryJob(nil), m.jobs...)
}

// JobsFor returns the submissions accepted by one printer.
func (m *Memory) JobsFor(printer string) []MemoryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemoryJob
	for _, j := range m.jobs {
		if j.Printer == printer {
			out = append(out, j)
		}
	}
	return out
}

// Applied returns the last driver state applied to a printer.
func (m *Memory) Applied(printer string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.applied[printer]...)
}
