package pipeline

import (
	"context"
	"time"
)

// Run is a handle to one submitted capture.
type Run struct {
	id        string
	source    string
	submitted time.Time
	done      chan struct{}

	// set once before done is closed
	final Snapshot
	err   error
}

func newRun(id, source string) *Run {
	return &Run{id: id, source: source, submitted: time.Now(), done: make(chan struct{})}
}

// ID returns the run identifier carried in snapshots.
func (r *Run) ID() string { return r.id }

// Source returns the capture source.
func (r *Run) Source() string { return r.source }

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends or ctx is done. It returns the terminal
// snapshot and, for failed runs, the classified error.
func (r *Run) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.done:
		return r.final, r.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (r *Run) finish(final Snapshot, err error) {
	r.final = final
	r.err = err
	close(r.done)
}
