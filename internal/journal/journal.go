package journal

import (
	"time"
)

// Run is one processed trigger, recorded for operator diagnostics. The
// journal is advisory history only; the backend's queue remains the single
// source of truth for job state.
type Run struct {
	ID            string // UUIDv4
	Filename      string // trigger filename
	CorrelationID string
	Action        string
	Outcome       string // completed|timeout|failed|skipped; empty while running
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Store defines persistence for Runs.
type Store interface {
	CreateRun(run *Run) error
	CompleteRun(id, outcome, errMsg string, completedAt time.Time) error
	RecentRuns(limit int) ([]Run, error)
	Close() error
}
