package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/snaprec/internal/encoder"
	"github.com/MeKo-Tech/snaprec/internal/history"
	"github.com/MeKo-Tech/snaprec/internal/orientation"
	"github.com/MeKo-Tech/snaprec/internal/transform"
)

// Config holds configuration for the controller and its stages.
type Config struct {
	Orientation orientation.Config
	Encoder     encoder.Options
	// DefaultFilter applies when a capture does not name one.
	DefaultFilter transform.Filter
	// DefaultOrientation applies when a capture carries no tag.
	DefaultOrientation orientation.Tag
	// HistoryDisplay caps the history carried in snapshots. 0 carries all.
	HistoryDisplay int
	// SubscriberBuffer is the per-subscriber snapshot queue length.
	SubscriberBuffer int
	// Model and Instruction are forwarded with each upload; empty uses the
	// client's configuration.
	Model       string
	Instruction string
}

// DefaultConfig returns a default controller config with component defaults.
func DefaultConfig() Config {
	return Config{
		Orientation:        orientation.DefaultConfig(),
		Encoder:            encoder.DefaultOptions(),
		DefaultFilter:      transform.Filter{Kind: transform.Grayscale},
		DefaultOrientation: orientation.Auto,
		HistoryDisplay:     history.DisplayLimit,
		SubscriberBuffer:   8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.DefaultFilter.Validate(); err != nil {
		return fmt.Errorf("default filter: %w", err)
	}
	if _, err := orientation.ParseTag(string(c.DefaultOrientation)); err != nil {
		return fmt.Errorf("default orientation: %w", err)
	}
	if c.HistoryDisplay < 0 {
		return fmt.Errorf("history display must be >= 0, got %d", c.HistoryDisplay)
	}
	if c.Encoder.Quality < 0 || c.Encoder.Quality > 100 {
		return fmt.Errorf("encoder quality must be within 0..100, got %d", c.Encoder.Quality)
	}
	return nil
}

// Builder constructs a Controller with fluent configuration.
type Builder struct {
	cfg      Config
	uploader Uploader
	store    *history.Store
	logger   *slog.Logger
	progress ProgressCallback
}

// NewBuilder creates a new controller builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithUploader sets the recognition client.
func (b *Builder) WithUploader(u Uploader) *Builder {
	b.uploader = u
	return b
}

// WithHistory shares an existing history store.
func (b *Builder) WithHistory(s *history.Store) *Builder {
	b.store = s
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithProgressCallback sets the per-stage progress reporter.
func (b *Builder) WithProgressCallback(p ProgressCallback) *Builder {
	b.progress = p
	return b
}

// WithDefaultFilter sets the filter used when a capture names none.
func (b *Builder) WithDefaultFilter(f transform.Filter) *Builder {
	if f.Kind != "" {
		b.cfg.DefaultFilter = f
	}
	return b
}

// WithSampleFactor sets the decode downsampling factor.
func (b *Builder) WithSampleFactor(n int) *Builder {
	if n > 0 {
		b.cfg.Orientation.SampleFactor = n
	}
	return b
}

// WithEncoderBound sets the maximum payload dimensions.
func (b *Builder) WithEncoderBound(maxW, maxH int) *Builder {
	if maxW > 0 {
		b.cfg.Encoder.MaxWidth = maxW
	}
	if maxH > 0 {
		b.cfg.Encoder.MaxHeight = maxH
	}
	return b
}

// WithQuality sets the JPEG quality.
func (b *Builder) WithQuality(q int) *Builder {
	if q > 0 && q <= 100 {
		b.cfg.Encoder.Quality = q
	}
	return b
}

// WithMaxPayloadBytes sets the encoded payload ceiling.
func (b *Builder) WithMaxPayloadBytes(n int) *Builder {
	if n > 0 {
		b.cfg.Encoder.MaxPayloadBytes = n
	}
	return b
}

// WithHistoryDisplay sets how many results snapshots carry.
func (b *Builder) WithHistoryDisplay(n int) *Builder {
	if n >= 0 {
		b.cfg.HistoryDisplay = n
	}
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and starts the controller's workers.
func (b *Builder) Build() (*Controller, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if b.uploader == nil {
		return nil, errors.New("invalid pipeline config: uploader is required")
	}
	return newController(b.cfg, b.uploader, b.store, b.logger, b.progress), nil
}
