package support

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/history"
	"github.com/MeKo-Tech/snaprec/internal/orientation"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/MeKo-Tech/snaprec/internal/testutil"
	"github.com/MeKo-Tech/snaprec/internal/transform"
	"github.com/disintegration/imaging"
)

// waitTimeout bounds every wait on the pipeline.
const waitTimeout = 15 * time.Second

// TestContext holds the state of one scenario.
type TestContext struct {
	Recognizer *FakeRecognizer
	Controller *pipeline.Controller
	History    *history.Store
	HTTP       *HTTPState

	// endpoint overrides the recognizer's URL, e.g. for an unreachable service.
	endpoint     string
	readTimeout  time.Duration
	payloadLimit int
	unsubscribe  func()
	observedMu   sync.Mutex
	observed     []pipeline.Snapshot

	// Capture under construction
	Capture pipeline.CapturedImage

	LastRun      *pipeline.Run
	LastSnapshot pipeline.Snapshot
	LastErr      error

	// CLI state
	CLIOutput   string
	CLIStderr   string
	CLIErr      error
	capturePath string

	TempDir string
	envVars []string
}

// NewTestContext creates a scenario context with a fresh recognition service.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "snaprec-it-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{
		Recognizer: NewFakeRecognizer(),
		HTTP:       &HTTPState{},
		TempDir:    dir,
	}, nil
}

// StartPipeline builds the controller against the fake service and starts
// observing its snapshots.
func (tc *TestContext) StartPipeline() error {
	cfg := recognition.DefaultConfig()
	cfg.Endpoint = tc.Recognizer.Endpoint()
	if tc.endpoint != "" {
		cfg.Endpoint = tc.endpoint
	}
	cfg.Model = "test-vision"
	if tc.readTimeout > 0 {
		cfg.ConnectTimeout = tc.readTimeout
		cfg.WriteTimeout = tc.readTimeout
		cfg.ReadTimeout = tc.readTimeout
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := recognition.NewClient(cfg, recognition.WithLogger(logger))
	if err != nil {
		return err
	}

	tc.History = history.NewStore()
	b := pipeline.NewBuilder().
		WithUploader(client).
		WithHistory(tc.History).
		WithLogger(logger)
	if tc.payloadLimit > 0 {
		b = b.WithMaxPayloadBytes(tc.payloadLimit)
	}
	ctrl, err := b.Build()
	if err != nil {
		return err
	}
	tc.Controller = ctrl

	updates, cancel := ctrl.Subscribe()
	tc.unsubscribe = cancel
	go func() {
		for snap := range updates {
			tc.observedMu.Lock()
			tc.observed = append(tc.observed, snap)
			tc.observedMu.Unlock()
		}
	}()
	return nil
}

// SetCaptureImage encodes img into the capture in the given format.
func (tc *TestContext) SetCaptureImage(img image.Image, format imaging.Format, source string) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(90)); err != nil {
		return err
	}
	tc.Capture = pipeline.CapturedImage{Data: buf.Bytes(), Source: source}
	return nil
}

// SetQuadrantCapture builds a w x h capture with four colored quadrants.
func (tc *TestContext) SetQuadrantCapture(w, h int, format imaging.Format, source string) error {
	return tc.SetCaptureImage(testutil.CreateQuadrantImage(w, h), format, source)
}

// SetFilter sets the per-capture filter.
func (tc *TestContext) SetFilter(name string) error {
	f, err := transform.ParseFilter(name)
	if err != nil {
		return err
	}
	tc.Capture.Filter = f
	return nil
}

// SetOrientation sets the per-capture orientation tag.
func (tc *TestContext) SetOrientation(tag string) error {
	t, err := orientation.ParseTag(tag)
	if err != nil {
		return err
	}
	tc.Capture.Orientation = t
	return nil
}

// Submit hands the capture to the controller.
func (tc *TestContext) Submit() {
	tc.observedMu.Lock()
	tc.observed = nil
	tc.observedMu.Unlock()

	tc.LastRun, tc.LastErr = tc.Controller.Submit(context.Background(), tc.Capture)
}

// Wait blocks until the last run ends.
func (tc *TestContext) Wait() error {
	if tc.LastRun == nil {
		return fmt.Errorf("no run was started: %w", tc.LastErr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	snap, err := tc.LastRun.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && snap.State == "" {
		return errors.New("run did not finish in time")
	}
	tc.LastSnapshot, tc.LastErr = snap, err
	return nil
}

// ObservedStates waits until a terminal snapshot was observed and returns
// the states seen since the last submission.
func (tc *TestContext) ObservedStates() ([]string, error) {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		tc.observedMu.Lock()
		var states []string
		terminal := false
		for _, s := range tc.observed {
			states = append(states, string(s.State))
			terminal = terminal || s.State.Terminal()
		}
		tc.observedMu.Unlock()
		if terminal {
			return states, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, errors.New("no terminal snapshot observed")
}

// WriteCaptureFile stores the capture on disk for CLI scenarios.
func (tc *TestContext) WriteCaptureFile(name string) (string, error) {
	path := filepath.Join(tc.TempDir, name)
	if err := os.WriteFile(path, tc.Capture.Data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Setenv sets an environment variable until Cleanup.
func (tc *TestContext) Setenv(key, value string) {
	tc.envVars = append(tc.envVars, key)
	_ = os.Setenv(key, value)
}

// Cleanup releases everything the scenario created.
func (tc *TestContext) Cleanup() error {
	var errs []string
	if tc.HTTP != nil {
		tc.HTTP.Close()
	}
	if tc.unsubscribe != nil {
		tc.unsubscribe()
	}
	if tc.Controller != nil {
		if err := tc.Controller.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	tc.Recognizer.Close()
	for _, k := range tc.envVars {
		_ = os.Unsetenv(k)
	}
	if err := os.RemoveAll(tc.TempDir); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
