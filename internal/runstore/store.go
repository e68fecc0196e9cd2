// Package runstore is the single source of truth for run state: records,
// event logs, cancellation handles and pending-await metadata.
//
// The in-memory implementation is the default; the interface exists so a
// durable backend (see SQLiteStore) can be substituted without touching the
// execution drivers.
package runstore

import (
	"context"
	"errors"

	"github.com/xiaohan0616/acpd/internal/domain"
)

var (
	// ErrNotFound is returned for operations on unknown run ids.
	ErrNotFound = errors.New("runstore: run not found")
	// ErrConflict is returned when an operation loses an atomic race or is
	// attempted in the wrong state.
	ErrConflict = errors.New("runstore: conflict")
)

// MaxCompletedRuns caps how many terminal runs are retained. Non-terminal
// runs are never evicted.
const MaxCompletedRuns = 1000

// Store holds all mutable run state. Every compound check-then-act sequence
// (eviction, the atomic await-take) executes atomically inside one call.
type Store interface {
	// Create inserts a run, an empty event log, and its cancellation handle,
	// then evicts aged-out terminal runs. Run ids are caller-unique.
	Create(ctx context.Context, run *domain.Run, cancel context.CancelFunc) error

	// Get returns a copy of the run, or ErrNotFound.
	Get(ctx context.Context, runID string) (*domain.Run, error)

	// GetStatus returns the run's current status, or ErrNotFound.
	GetStatus(ctx context.Context, runID string) (domain.RunStatus, error)

	// UpdateStatus writes the status unconditionally; unknown ids are a no-op.
	UpdateStatus(ctx context.Context, runID string, status domain.RunStatus) error

	// SetAwaiting moves the run to awaiting, records the outbound await
	// request on it, and stores the metadata in the side table.
	SetAwaiting(ctx context.Context, runID string, req domain.AwaitRequest, meta domain.AwaitMetadata) error

	// TakeAwaitIfAwaiting atomically removes and returns the await metadata,
	// but only while the run's status is exactly awaiting. This is the single
	// synchronization point that keeps concurrent resumes exactly-once.
	// Unknown run ids return ErrNotFound.
	TakeAwaitIfAwaiting(ctx context.Context, runID string) (domain.AwaitMetadata, bool, error)

	// ClearAwait removes the await request from the record. Metadata removal
	// only ever happens through TakeAwaitIfAwaiting.
	ClearAwait(ctx context.Context, runID string) error

	// Finish sets a terminal status and stamps finished_at.
	Finish(ctx context.Context, runID string, status domain.RunStatus) error

	// SetError attaches an error without changing status; the driver decides
	// the resulting status.
	SetError(ctx context.Context, runID string, runErr domain.RunError) error

	// AppendOutput appends a translated message to the run's output.
	AppendOutput(ctx context.Context, runID string, msg domain.Message) error

	// AppendEvent appends to the run's event log, order preserved.
	AppendEvent(ctx context.Context, runID string, event domain.Event) error

	// GetEvents returns the full event log in append order, or ErrNotFound.
	GetEvents(ctx context.Context, runID string) ([]domain.Event, error)

	// Cancel signals the run's cancellation handle if one exists and reports
	// whether it did. It never changes status; the driver observing the
	// signal performs the terminal transition.
	Cancel(ctx context.Context, runID string) (bool, error)

	// List returns a page of runs in a stable but unspecified order. The
	// order is not chronological; that is a documented non-guarantee.
	List(ctx context.Context, limit, offset int) ([]domain.Run, error)

	// Close releases backend resources.
	Close() error
}
