package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/MeKo-Tech/snaprec/internal/testutil"
	"github.com/stretchr/testify/require"
)

// fakeUploader records calls and answers with a fixed response or error.
// When gate is non-nil each call blocks until gate is closed.
type fakeUploader struct {
	calls atomic.Int32
	text  string
	err   error
	gate  chan struct{}

	mu   sync.Mutex
	reqs []recognition.Request
}

func (f *fakeUploader) Recognize(ctx context.Context, req recognition.Request) (*recognition.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &recognition.Response{Text: f.text, Source: recognition.SourceResult, StatusCode: 200}, nil
}

func newTestController(t *testing.T, u Uploader, mutate func(*Builder)) *Controller {
	t.Helper()

	b := NewBuilder().WithUploader(u)
	if mutate != nil {
		mutate(b)
	}
	c, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCapture(t *testing.T) CapturedImage {
	t.Helper()
	return CapturedImage{
		Data:   testutil.EncodePNG(t, testutil.CreateQuadrantImage(64, 48)),
		Source: "capture-001.png",
	}
}

// collect reads snapshots until a terminal state arrives.
func collect(t *testing.T, ch <-chan Snapshot) []Snapshot {
	t.Helper()

	var out []Snapshot
	timeout := time.After(10 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
			if s.State.Terminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("no terminal snapshot, got %d snapshots", len(out))
			return out
		}
	}
}

func states(snaps []Snapshot) []State {
	out := make([]State, len(snaps))
	for i, s := range snaps {
		out[i] = s.State
	}
	return out
}

func waitRun(t *testing.T, run *Run) (Snapshot, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return run.Wait(ctx)
}
