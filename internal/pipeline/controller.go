// Package pipeline sequences a capture through decode, transform, encode
// and upload. A Controller runs at most one capture at a time; local image
// work and network I/O each run on their own worker goroutine, and the
// goroutine driving the run is the only writer of state and history.
// Observers only ever see immutable Snapshots.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/encoder"
	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/history"
	"github.com/MeKo-Tech/snaprec/internal/orientation"
	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/MeKo-Tech/snaprec/internal/transform"
	"github.com/google/uuid"
)

// Uploader sends an encoded payload for recognition.
type Uploader interface {
	Recognize(ctx context.Context, req recognition.Request) (*recognition.Response, error)
}

// StageError reports which stage of a run failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage recorded in err, or "" if none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Controller is the pipeline state machine.
type Controller struct {
	cfg        Config
	normalizer *orientation.Normalizer
	encoder    *encoder.Encoder
	uploader   Uploader
	history    *history.Store
	logger     *slog.Logger
	progress   ProgressCallback

	processing *lane
	network    *lane
	bus        *broadcaster

	// ctx bounds in-flight uploads; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64

	mu      sync.Mutex
	state   State
	active  *Run
	last    Snapshot
	seq     uint64
	preview []byte
	closed  bool
}

func newController(cfg Config, u Uploader, store *history.Store, logger *slog.Logger, progress ProgressCallback) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = history.NewStore()
	}
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	logger = logger.With("component", "pipeline")

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		normalizer: orientation.NewNormalizer(cfg.Orientation),
		encoder:    encoder.New(cfg.Encoder),
		uploader:   u,
		history:    store,
		logger:     logger,
		progress:   progress,
		processing: newLane("processing", logger),
		network:    newLane("network", logger),
		bus:        newBroadcaster(cfg.SubscriberBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}

	c.mu.Lock()
	c.publishLocked(Snapshot{State: StateIdle})
	c.mu.Unlock()
	historyEntries.Set(float64(store.Len()))
	return c
}

// Submit starts a run for capture. It returns ErrBusy while another run is
// active; captures are never queued. ctx only governs admission: once
// accepted, a run ends through its own stages or through Close.
func (c *Controller) Submit(ctx context.Context, capture CapturedImage) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.active != nil {
		active := c.active.id
		c.mu.Unlock()
		c.rejected.Add(1)
		rejectedTotal.Inc()
		c.logger.Info("capture rejected, pipeline busy", "active_run", active, "source", capture.Source)
		return nil, ErrBusy
	}
	run := newRun(uuid.NewString(), capture.Source)
	c.active = run
	c.runs.Add(1)
	c.mu.Unlock()

	activeRuns.Set(1)
	go c.drive(run, capture)
	return run, nil
}

func (c *Controller) resolve(capture CapturedImage) (transform.Filter, orientation.Tag) {
	filter := capture.Filter
	if filter.Kind == "" {
		filter = c.cfg.DefaultFilter
	}
	tag := capture.Orientation
	if tag == "" {
		tag = c.cfg.DefaultOrientation
	}
	return filter, tag
}

// drive owns one run from Processing to a terminal state.
func (c *Controller) drive(run *Run, capture CapturedImage) {
	defer c.runs.Done()

	filter, tag := c.resolve(capture)
	snap := Snapshot{RunID: run.id, Source: capture.Source, Filter: filter.String()}
	logger := c.logger.With("run_id", run.id, "source", capture.Source)

	c.mu.Lock()
	if c.state.Terminal() {
		idle := snap
		idle.State = StateIdle
		c.publishLocked(idle)
	}
	snap.State = StateProcessing
	c.publishLocked(snap)
	c.mu.Unlock()

	logger.Info("run started", "filter", snap.Filter, "orientation", tag, "bytes", len(capture.Data))
	c.progress.OnStart(run.id, len(Stages))

	processed := <-call(c.processing, func() (*Processed, error) {
		return c.process(capture, tag, filter, len(Stages))
	})
	if processed.err != nil {
		c.fail(run, snap, processed.err, logger)
		return
	}
	p := processed.val

	c.mu.Lock()
	c.preview = p.Preview
	snap.State = StateUploading
	snap.Width = p.Payload.Width
	snap.Height = p.Payload.Height
	snap.PayloadBytes = p.Payload.ByteLength()
	c.publishLocked(snap)
	c.mu.Unlock()
	payloadBytes.Observe(float64(p.Payload.ByteLength()))

	start := time.Now()
	uploaded := <-call(c.network, func() (*recognition.Response, error) {
		resp, err := c.uploader.Recognize(c.ctx, recognition.Request{
			Payload:     p.Payload,
			Filename:    capture.Source,
			Model:       c.cfg.Model,
			Instruction: c.cfg.Instruction,
		})
		if err == nil && resp == nil {
			err = failure.Newf(failure.KindMalformedResponse, "upload", "no response")
		}
		return resp, err
	})
	elapsed := time.Since(start)
	stageDuration.WithLabelValues(string(StageUpload)).Observe(elapsed.Seconds())
	if uploaded.err != nil {
		c.fail(run, snap, &StageError{Stage: StageUpload, Err: uploaded.err}, logger)
		return
	}
	c.progress.OnStage(StageUpload, len(Stages), len(Stages), elapsed)

	res := history.Result{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Text:        uploaded.val.Text,
		SourceImage: capture.Source,
		Filter:      snap.Filter,
	}

	c.mu.Lock()
	c.history.Append(res)
	snap.State = StateCompleted
	snap.Result = &res
	final := c.publishLocked(snap)
	c.active = nil
	c.mu.Unlock()

	activeRuns.Set(0)
	historyEntries.Set(float64(final.HistoryLen))
	runsTotal.WithLabelValues(string(StateCompleted)).Inc()
	c.completed.Add(1)
	c.progress.OnComplete(run.id, StateCompleted)
	logger.Info("run completed",
		"chars", len([]rune(res.Text)),
		"preview", history.Truncate(res.Text, history.ImagePreviewRunes),
		"upload_duration", elapsed)

	run.finish(final, nil)
}

func (c *Controller) fail(run *Run, snap Snapshot, err error, logger *slog.Logger) {
	stage := StageOf(err)
	kind := failure.KindOf(err)

	snap.State = StateFailed
	snap.Kind = kind
	snap.Status = failure.StatusOf(err)
	snap.Reason = failure.Reason(err)

	c.mu.Lock()
	final := c.publishLocked(snap)
	c.active = nil
	c.mu.Unlock()

	activeRuns.Set(0)
	runsTotal.WithLabelValues(string(StateFailed)).Inc()
	failuresTotal.WithLabelValues(string(kind), string(stage)).Inc()
	c.failed.Add(1)
	c.progress.OnError(stage, err)
	c.progress.OnComplete(run.id, StateFailed)
	logger.Warn("run failed", "stage", stage, "kind", kind, "local", failure.Local(err),
		"reason", snap.Reason, "error", err)

	run.finish(final, err)
}

// process runs the local stages. It is used both by runs (on the
// processing worker) and by Process.
func (c *Controller) process(capture CapturedImage, tag orientation.Tag, filter transform.Filter, total int) (*Processed, error) {
	out := &Processed{Timings: make(map[Stage]time.Duration, 3)}
	done := func(stage Stage, n int, start time.Time) {
		d := time.Since(start)
		out.Timings[stage] = d
		stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
		c.progress.OnStage(stage, n, total, d)
	}

	start := time.Now()
	img, err := c.normalizer.Normalize(capture.Data, capture.Source, tag)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}
	if capture.Width > 0 && capture.Height > 0 {
		c.logger.Debug("decoded capture",
			"hint", [2]int{capture.Width, capture.Height},
			"decoded", [2]int{img.Rect.Dx(), img.Rect.Dy()})
	}
	done(StageDecode, 1, start)

	start = time.Now()
	filtered, err := transform.Apply(img, filter)
	if err != nil {
		return nil, &StageError{Stage: StageTransform, Err: err}
	}
	done(StageTransform, 2, start)

	start = time.Now()
	payload, err := c.encoder.Encode(filtered)
	if err != nil {
		return nil, &StageError{Stage: StageEncode, Err: err}
	}
	preview, err := c.encoder.EncodeJPEG(filtered)
	if err != nil {
		return nil, &StageError{Stage: StageEncode, Err: err}
	}
	done(StageEncode, 3, start)

	out.Image = ProcessedImage{ID: uuid.NewString(), Image: filtered, Filter: filter, Source: capture.Source}
	out.Payload = payload
	out.Preview = preview
	return out, nil
}

// Process runs decode, transform and encode on the calling goroutine
// without touching state or history.
func (c *Controller) Process(ctx context.Context, capture CapturedImage) (*Processed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter, tag := c.resolve(capture)
	return c.process(capture, tag, filter, len(Stages)-1)
}

// publishLocked stamps and publishes s. c.mu must be held.
func (c *Controller) publishLocked(s Snapshot) Snapshot {
	c.seq++
	s.Seq = c.seq
	s.At = time.Now()
	s.History = c.history.Recent(c.cfg.HistoryDisplay)
	s.HistoryLen = c.history.Len()

	c.state = s.State
	c.last = s
	c.bus.publish(s)
	return s
}

// Latest returns the most recent snapshot.
func (c *Controller) Latest() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a run is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Updates is a single-slot mailbox holding the newest unread snapshot.
// Older unread snapshots are replaced.
func (c *Controller) Updates() <-chan Snapshot { return c.bus.mailbox }

// Subscribe returns a stream of snapshots and a cancel func. Slow
// subscribers lose the oldest queued snapshots, never the newest.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) { return c.bus.subscribe() }

// History returns up to limit results, newest first. limit <= 0 returns all.
func (c *Controller) History(limit int) []history.Result {
	return c.history.Recent(limit)
}

// ClearHistory drops every stored result and publishes the change.
func (c *Controller) ClearHistory() int {
	c.mu.Lock()
	n := c.history.Clear()
	snap := c.last
	c.publishLocked(snap)
	c.mu.Unlock()

	historyEntries.Set(0)
	c.logger.Info("history cleared", "removed", n)
	return n
}

// Preview returns the JPEG of the last processed image.
func (c *Controller) Preview() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.preview) == 0 {
		return nil, false
	}
	return append([]byte(nil), c.preview...), true
}

// Close rejects further captures, aborts an in-flight upload and waits for
// the workers to exit.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.runs.Wait()
	c.processing.stop()
	c.network.stop()
	c.bus.close()
	return nil
}
