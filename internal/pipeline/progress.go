package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives per-stage progress for each run.
type ProgressCallback interface {
	// OnStart is called when a run begins with the number of stages it will execute.
	OnStart(runID string, stages int)

	// OnStage is called after each stage finishes.
	OnStage(stage Stage, current, total int, elapsed time.Duration)

	// OnComplete is called when the run reaches a terminal state.
	OnComplete(runID string, state State)

	// OnError is called when a stage fails.
	OnError(stage Stage, err error)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(string, int)                    {}
func (NoOpProgressCallback) OnStage(Stage, int, int, time.Duration) {}
func (NoOpProgressCallback) OnComplete(string, State)               {}
func (NoOpProgressCallback) OnError(Stage, error)                   {}

// ConsoleProgressCallback draws a stage bar on the console.
type ConsoleProgressCallback struct {
	writer    io.Writer
	prefix    string
	width     int
	mutex     sync.Mutex
	startTime time.Time
}

// NewConsoleProgressCallback creates a new console progress reporter.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{writer: writer, prefix: prefix, width: 20}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	if width > 0 {
		c.width = width
	}
	return c
}

func (c *ConsoleProgressCallback) OnStart(runID string, stages int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	_, _ = fmt.Fprintf(c.writer, "%srun %s: 0/%d stages\n", c.prefix, shortID(runID), stages)
}

func (c *ConsoleProgressCallback) OnStage(stage Stage, current, total int, elapsed time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if total <= 0 {
		return
	}
	filled := c.width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%s[%s] %d/%d %-9s %v", c.prefix, bar, current, total, stage,
		elapsed.Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnComplete(runID string, state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%srun %s %s in %v\n", c.prefix, shortID(runID), state,
		time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(stage Stage, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%s%s failed: %v\n", c.prefix, stage, err)
}

// LogProgressCallback logs progress updates using slog.
type LogProgressCallback struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogProgressCallback creates a new log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level}
}

func (l *LogProgressCallback) OnStart(runID string, stages int) {
	l.logger.Log(context.Background(), l.level, "run started", "run_id", runID, "stages", stages)
}

func (l *LogProgressCallback) OnStage(stage Stage, current, total int, elapsed time.Duration) {
	l.logger.Log(context.Background(), l.level, "stage finished",
		"stage", stage, "current", current, "total", total, "elapsed", elapsed)
}

func (l *LogProgressCallback) OnComplete(runID string, state State) {
	l.logger.Log(context.Background(), l.level, "run finished", "run_id", runID, "state", state)
}

func (l *LogProgressCallback) OnError(stage Stage, err error) {
	l.logger.Warn("stage failed", "stage", stage, "error", err)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback []ProgressCallback

func (m MultiProgressCallback) OnStart(runID string, stages int) {
	for _, cb := range m {
		cb.OnStart(runID, stages)
	}
}

func (m MultiProgressCallback) OnStage(stage Stage, current, total int, elapsed time.Duration) {
	for _, cb := range m {
		cb.OnStage(stage, current, total, elapsed)
	}
}

func (m MultiProgressCallback) OnComplete(runID string, state State) {
	for _, cb := range m {
		cb.OnComplete(runID, state)
	}
}

func (m MultiProgressCallback) OnError(stage Stage, err error) {
	for _, cb := range m {
		cb.OnError(stage, err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
