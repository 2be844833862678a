package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/encoder"
	"github.com/MeKo-Tech/snaprec/internal/history"
	"github.com/MeKo-Tech/snaprec/internal/orientation"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/MeKo-Tech/snaprec/internal/server"
	"github.com/MeKo-Tech/snaprec/internal/transform"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	rc := recognition.DefaultConfig()
	oc := orientation.DefaultConfig()
	eo := encoder.DefaultOptions()

	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Verbose:   false,
		Recognition: RecognitionConfig{
			Endpoint:          rc.Endpoint,
			StatusPath:        rc.StatusPath,
			Envelope:          string(rc.Envelope),
			Model:             rc.Model,
			Instruction:       rc.Instruction,
			MaxTokens:         rc.MaxTokens,
			Temperature:       rc.Temperature,
			UserAgent:         rc.UserAgent,
			ConnectTimeoutSec: int(rc.ConnectTimeout / time.Second),
			WriteTimeoutSec:   int(rc.WriteTimeout / time.Second),
			ReadTimeoutSec:    int(rc.ReadTimeout / time.Second),
			MaxResponseBytes:  rc.MaxResponseBytes,
		},
		Pipeline: PipelineConfig{
			Filter:           string(transform.Grayscale),
			Orientation:      string(orientation.Auto),
			SampleFactor:     oc.SampleFactor,
			MaxPixels:        oc.MaxPixels,
			MaxWidth:         eo.MaxWidth,
			MaxHeight:        eo.MaxHeight,
			Quality:          eo.Quality,
			MaxPayloadBytes:  eo.MaxPayloadBytes,
			HistoryDisplay:   history.DisplayLimit,
			SubscriberBuffer: 8,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSOrigin:        "*",
			MaxUploadMB:       20,
			TimeoutSec:        180,
			ShutdownTimeout:   10,
			RateLimitEnabled:  false,
			RequestsPerMinute: 30,
			RequestsPerHour:   600,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     500 * 1024 * 1024,
			TrustProxy:        false,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validLogFormats := []string{"text", "json"}
	if c.LogFormat != "" && !slices.Contains(validLogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.LogFormat, strings.Join(validLogFormats, ", "))
	}

	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if _, err := transform.ParseFilter(c.Pipeline.Filter); err != nil {
		return fmt.Errorf("invalid pipeline.filter: %w", err)
	}
	if _, err := orientation.ParseTag(c.Pipeline.Orientation); err != nil {
		return fmt.Errorf("invalid pipeline.orientation: %w", err)
	}
	if c.Pipeline.SampleFactor < 1 {
		return fmt.Errorf("invalid pipeline.sample_factor: %d (must be >= 1)", c.Pipeline.SampleFactor)
	}
	if c.Pipeline.MaxWidth <= 0 || c.Pipeline.MaxHeight <= 0 {
		return fmt.Errorf("invalid payload bound: %dx%d (must be positive)", c.Pipeline.MaxWidth, c.Pipeline.MaxHeight)
	}
	if c.Pipeline.Quality < 1 || c.Pipeline.Quality > 100 {
		return fmt.Errorf("invalid pipeline.quality: %d (must be between 1 and 100)", c.Pipeline.Quality)
	}
	if c.Pipeline.MaxPayloadBytes <= 0 {
		return fmt.Errorf("invalid pipeline.max_payload_bytes: %d (must be positive)", c.Pipeline.MaxPayloadBytes)
	}
	if c.Pipeline.HistoryDisplay < 0 {
		return fmt.Errorf("invalid pipeline.history_display: %d (must be >= 0)", c.Pipeline.HistoryDisplay)
	}

	if err := c.ToClientConfig().Validate(); err != nil {
		return fmt.Errorf("invalid recognition config: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must be non-negative)", c.Server.ShutdownTimeout)
	}

	return nil
}

// ToPipelineConfig converts the config to the controller configuration.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	filter, err := transform.ParseFilter(c.Pipeline.Filter)
	if err != nil {
		return cfg, fmt.Errorf("pipeline.filter: %w", err)
	}
	tag, err := orientation.ParseTag(c.Pipeline.Orientation)
	if err != nil {
		return cfg, fmt.Errorf("pipeline.orientation: %w", err)
	}

	cfg.DefaultFilter = filter
	cfg.DefaultOrientation = tag
	cfg.Orientation = orientation.Config{
		SampleFactor: c.Pipeline.SampleFactor,
		MaxPixels:    c.Pipeline.MaxPixels,
	}
	cfg.Encoder = encoder.Options{
		MaxWidth:        c.Pipeline.MaxWidth,
		MaxHeight:       c.Pipeline.MaxHeight,
		Quality:         c.Pipeline.Quality,
		MaxPayloadBytes: c.Pipeline.MaxPayloadBytes,
	}
	cfg.HistoryDisplay = c.Pipeline.HistoryDisplay
	if c.Pipeline.SubscriberBuffer > 0 {
		cfg.SubscriberBuffer = c.Pipeline.SubscriberBuffer
	}
	return cfg, nil
}

// ToClientConfig converts the config to the recognition client configuration.
// The request ceiling follows the pipeline's payload ceiling.
func (c *Config) ToClientConfig() recognition.Config {
	cfg := recognition.DefaultConfig()
	r := c.Recognition

	cfg.Endpoint = r.Endpoint
	if r.StatusPath != "" {
		cfg.StatusPath = r.StatusPath
	}
	if r.Envelope != "" {
		cfg.Envelope = recognition.Envelope(strings.ToLower(r.Envelope))
	}
	cfg.Model = r.Model
	cfg.Instruction = r.Instruction
	cfg.MaxTokens = r.MaxTokens
	cfg.Temperature = r.Temperature
	if r.UserAgent != "" {
		cfg.UserAgent = r.UserAgent
	}
	cfg.ConnectTimeout = time.Duration(r.ConnectTimeoutSec) * time.Second
	cfg.WriteTimeout = time.Duration(r.WriteTimeoutSec) * time.Second
	cfg.ReadTimeout = time.Duration(r.ReadTimeoutSec) * time.Second
	if r.MaxResponseBytes > 0 {
		cfg.MaxResponseBytes = r.MaxResponseBytes
	}
	cfg.StrictResponse = r.StrictResponse
	if c.Pipeline.MaxPayloadBytes > 0 {
		cfg.MaxPayloadBytes = c.Pipeline.MaxPayloadBytes
	}
	return cfg
}

// ToServerConfig converts the config to the presentation server configuration.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		CORSOrigin:      c.Server.CORSOrigin,
		MaxUploadMB:     int64(c.Server.MaxUploadMB),
		TimeoutSec:      c.Server.TimeoutSec,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		RateLimit: server.RateLimitConfig{
			Enabled:           c.Server.RateLimitEnabled,
			RequestsPerMinute: c.Server.RequestsPerMinute,
			RequestsPerHour:   c.Server.RequestsPerHour,
			MaxRequestsPerDay: c.Server.MaxRequestsPerDay,
			MaxDataPerDay:     c.Server.MaxDataPerDay,
			TrustProxy:        c.Server.TrustProxy,
		},
	}
}
