package print

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobState tracks a job through the dispatch pipeline.
type JobState uint8

const (
	StateSubmitted JobState = iota
	StateClassified
	StateQuotaReserved
	StateDispatching
	StatePrinting
	StateRetrying
	StateCompleted
	StateFailed
)

var jobStateNames = map[JobState]string{
	StateSubmitted:     "submitted",
	StateClassified:    "classified",
	StateQuotaReserved: "quota_reserved",
	StateDispatching:   "dispatching",
	StatePrinting:      "printing",
	StateRetrying:      "retrying",
	StateCompleted:     "completed",
	StateFailed:        "failed",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether the job has reached a final state.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobState) UnmarshalText(text []byte) error {
	for state, name := range jobStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", string(text))
}

// FailureReason identifies why a job (or a single attempt) did not print.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonQuotaExceeded     FailureReason = "quota_exceeded"
	ReasonQuotaUnavailable  FailureReason = "quota_unavailable"
	ReasonProfileMissing    FailureReason = "profile_missing"
	ReasonDriverApplyFailed FailureReason = "driver_apply_failed"
	ReasonSpoolSubmitFailed FailureReason = "spool_submit_failed"
	ReasonSpoolTimeout      FailureReason = "spool_timeout"
	ReasonAllPrintersFailed FailureReason = "all_printers_failed"
	ReasonCancelled         FailureReason = "cancelled"
)

// AttemptOutcomeOK marks a successful attempt in the attempt history.
const AttemptOutcomeOK = "ok"

// Attempt records one contact with one printer. Timestamps within a job
// are monotonic: attempts are appended by a single goroutine using the
// wall clock's monotonic reading.
type Attempt struct {
	Printer string    `json:"printer"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Job is a single print request moving through the dispatcher. A job is
// mutated by exactly one worker goroutine; other goroutines only read the
// snapshots handed to the notifier or request cancellation.
type Job struct {
	ID        string        `json:"id"`
	ImagePath string        `json:"image_path"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Copies    int           `json:"copies"`
	SessionID string        `json:"session_id"`
	EventID   string        `json:"event_id"`
	Format    Format        `json:"format"`
	State     JobState      `json:"state"`
	Reason    FailureReason `json:"reason,omitempty"`
	// UnverifiedAlignment is set when no driver profile existed for a
	// printer this job was sent to, so the print went out with whatever
	// state the OS driver happened to hold.
	UnverifiedAlignment bool      `json:"unverified_alignment,omitempty"`
	Attempts            []Attempt `json:"attempts"`
	CreatedAt           time.Time `json:"created_at"`
	FinishedAt          time.Time `json:"finished_at,omitempty"`

	// cancelled lives behind a pointer so copying the struct never reads
	// the flag word itself; Cancel may run concurrently with Snapshot.
	cancelled *int32
}

// NewJob creates a job in the Submitted state with a generated id.
func NewJob(imagePath string, width, height int, sessionID, eventID string, copies int) *Job {
	return &Job{
		ID:        uuid.New().String(),
		ImagePath: imagePath,
		Width:     width,
		Height:    height,
		Copies:    copies,
		SessionID: sessionID,
		EventID:   eventID,
		State:     StateSubmitted,
		CreatedAt: time.Now(),
		cancelled: new(int32),
	}
}

// Cancel requests cancellation. It only takes effect while the job has
// not yet reached Printing; a job already handed to the OS spooler runs
// to completion.
func (j *Job) Cancel() {
	if j.cancelled != nil {
		atomic.StoreInt32(j.cancelled, 1)
	}
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	return j.cancelled != nil && atomic.LoadInt32(j.cancelled) == 1
}

// RecordAttempt appends to the attempt history.
func (j *Job) RecordAttempt(printer, outcome string, err error) {
	a := Attempt{
		Printer: printer,
		Outcome: outcome,
		Time:    time.Now(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	j.Attempts = append(j.Attempts, a)
}

// AttemptSummary renders the attempt history on one line for logs, e.g.
// "hiti-p525 driver_apply_failed; dnp-ds620 ok".
func (j *Job) AttemptSummary() string {
	parts := make([]string, 0, len(j.Attempts))
	for _, a := range j.Attempts {
		parts = append(parts, a.Printer+" "+a.Outcome)
	}
	return strings.Join(parts, "; ")
}

// Snapshot returns a copy safe to hand to other goroutines. The attempt
// slice is copied; the cancel flag is not carried over.
func (j *Job) Snapshot() Job {
	c := *j
	c.Attempts = make([]Attempt, len(j.Attempts))
	copy(c.Attempts, j.Attempts)
	c.cancelled = nil
	return c
}
