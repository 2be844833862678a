package recognition

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/encoder"
)

// Envelope selects the request body shape.
type Envelope string

const (
	// EnvelopeChat is an OpenAI-compatible chat completion request carrying
	// the image as a data URI.
	EnvelopeChat Envelope = "chat"
	// EnvelopeMinimal is {"image": <base64>, "filename": <name>}.
	EnvelopeMinimal Envelope = "minimal"
)

// Config controls the upload client.
type Config struct {
	Endpoint   string
	StatusPath string
	Envelope   Envelope

	Model       string
	Instruction string
	MaxTokens   int
	Temperature float64
	UserAgent   string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration

	// MaxPayloadBytes bounds the serialized request body.
	MaxPayloadBytes int
	// MaxResponseBytes bounds how much of a response body is read.
	MaxResponseBytes int64
	// StrictResponse rejects 2xx bodies that match neither response schema
	// instead of falling back to the raw body.
	StrictResponse bool
}

// DefaultConfig returns the defaults the recognition service expects.
func DefaultConfig() Config {
	return Config{
		Endpoint:         "http://localhost:8000/v1/chat/completions",
		StatusPath:       "/api/status",
		Envelope:         EnvelopeChat,
		Model:            "qwen2.5-vl-7b",
		Instruction:      "Describe the content of this image",
		MaxTokens:        300,
		Temperature:      0.7,
		UserAgent:        "snaprec/1.0",
		ConnectTimeout:   30 * time.Second,
		WriteTimeout:     60 * time.Second,
		ReadTimeout:      60 * time.Second,
		MaxPayloadBytes:  encoder.DefaultMaxPayloadBytes,
		MaxResponseBytes: 4 << 20,
	}
}

// TotalTimeout bounds one complete exchange.
func (c Config) TotalTimeout() time.Duration {
	return c.ConnectTimeout + c.WriteTimeout + c.ReadTimeout
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", c.Endpoint)
	}
	switch c.Envelope {
	case EnvelopeChat:
		if c.Model == "" {
			return errors.New("model is required for the chat envelope")
		}
	case EnvelopeMinimal:
	default:
		return fmt.Errorf("unknown envelope %q (valid: chat, minimal)", c.Envelope)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", c.Temperature)
	}
	if c.ConnectTimeout <= 0 || c.WriteTimeout <= 0 || c.ReadTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.MaxPayloadBytes <= 0 {
		return errors.New("max_payload_bytes must be positive")
	}
	if c.MaxResponseBytes <= 0 {
		return errors.New("max_response_bytes must be positive")
	}
	return nil
}
