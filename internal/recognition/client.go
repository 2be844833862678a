// Package recognition uploads encoded images to a remote recognition
// service and turns its response, or its failure, into something the
// pipeline can report.
package recognition

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/encoder"
	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/mempool"
)

const op = "upload"

// Request is one upload.
type Request struct {
	Payload *encoder.Payload
	// Filename is sent with the minimal envelope. Defaults to "capture.jpg".
	Filename string
	// Model and Instruction override the configured values for this request.
	Model       string
	Instruction string
}

func (r Request) filename() string {
	if r.Filename == "" {
		return "capture.jpg"
	}
	return path.Base(r.Filename)
}

// Response is a successful recognition.
type Response struct {
	Text string
	// Source tells which part of the body the text came from.
	Source     Source
	StatusCode int
	Duration   time.Duration
}

// Client talks to one recognition endpoint. It is safe for concurrent use.
type Client struct {
	cfg       Config
	http      *http.Client
	statusURL string
	logger    *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the tuned default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger. A nil logger falls back to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recognition config: %w", err)
	}
	statusURL, err := resolveStatusURL(cfg.Endpoint, cfg.StatusPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		http:      newHTTPClient(cfg),
		statusURL: statusURL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "recognition", "endpoint", cfg.Endpoint)
	return c, nil
}

// newHTTPClient maps the connect/write/read budget onto net/http. There is
// no write deadline in the client API, so the response-header wait covers
// write+read and the overall timeout covers all three.
func newHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		MaxIdleConns:           10,
		MaxIdleConnsPerHost:    2,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    cfg.ConnectTimeout,
		ResponseHeaderTimeout:  cfg.WriteTimeout + cfg.ReadTimeout,
		ExpectContinueTimeout:  time.Second,
		MaxResponseHeaderBytes: 64 << 10,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout(),
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("too many redirects (limit: 3)")
			}
			return nil
		},
	}
}

func resolveStatusURL(endpoint, statusPath string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if statusPath == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(statusPath)
	if err != nil {
		return "", fmt.Errorf("invalid status path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// Recognize uploads req.Payload and extracts the result text. Every error
// is a *failure.Error. Oversize payloads fail before any connection is made.
func (c *Client) Recognize(ctx context.Context, req Request) (*Response, error) {
	if req.Payload == nil || req.Payload.Data == "" {
		return nil, failure.Newf(failure.KindInvalidImage, op, "empty payload")
	}
	if n := req.Payload.ByteLength(); n > c.cfg.MaxPayloadBytes {
		return nil, failure.Newf(failure.KindPayloadTooLarge, op,
			"payload is %d bytes, limit %d", n, c.cfg.MaxPayloadBytes)
	}

	body := mempool.GetBuffer(req.Payload.ByteLength() + 1024)
	defer mempool.PutBuffer(body)

	if err := c.writeEnvelope(body, req); err != nil {
		return nil, failure.New(failure.KindUnknown, op, fmt.Errorf("encode request: %w", err))
	}
	if body.Len() > c.cfg.MaxPayloadBytes {
		return nil, failure.Newf(failure.KindPayloadTooLarge, op,
			"request body is %d bytes, limit %d", body.Len(), c.cfg.MaxPayloadBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalTimeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, failure.New(failure.KindUnknown, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)

	c.logger.Debug("uploading payload",
		"envelope", c.cfg.Envelope,
		"body_bytes", body.Len(),
		"width", req.Payload.Width,
		"height", req.Payload.Height)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		ferr := Classify(err)
		c.logger.Warn("upload failed", "kind", ferr.Kind, "error", err, "duration", time.Since(start))
		return nil, ferr
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("closing response body", "error", cerr)
		}
	}()

	raw, err := readLimited(resp.Body, c.cfg.MaxResponseBytes)
	if err != nil {
		ferr := Classify(err)
		c.logger.Warn("reading response failed", "kind", ferr.Kind, "status", resp.StatusCode, "error", err)
		return nil, ferr
	}
	duration := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ferr := failure.FromStatus(op, resp.StatusCode, snippet(raw))
		c.logger.Warn("upload rejected", "status", resp.StatusCode, "kind", ferr.Kind, "duration", duration)
		return nil, ferr
	}

	text, source, err := Extract(raw, c.cfg.StrictResponse)
	if err != nil {
		c.logger.Warn("unparsable response", "status", resp.StatusCode, "bytes", len(raw))
		return nil, err
	}

	c.logger.Info("recognition completed",
		"status", resp.StatusCode,
		"source", source,
		"chars", len([]rune(text)),
		"duration", duration)

	return &Response{Text: text, Source: source, StatusCode: resp.StatusCode, Duration: duration}, nil
}

// Health is the result of a status probe.
type Health struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
	Body       string        `json:"body,omitempty"`
}

// Health issues a GET against the status path. Non-2xx answers are
// classified the same way uploads are.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout+c.cfg.ReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return nil, failure.New(failure.KindUnknown, "status", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		ferr := Classify(err)
		ferr.Op = "status"
		return nil, ferr
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := readLimited(resp.Body, 64<<10)
	if err != nil {
		ferr := Classify(err)
		ferr.Op = "status"
		return nil, ferr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure.FromStatus("status", resp.StatusCode, snippet(raw))
	}

	return &Health{
		URL:        c.statusURL,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
		Body:       snippet(raw),
	}, nil
}

// readLimited reads at most limit bytes and reports an overflow as a
// malformed response.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, failure.Newf(failure.KindMalformedResponse, op, "response exceeds %d bytes", limit)
	}
	return raw, nil
}

func snippet(raw []byte) string {
	const n = 200
	s := string(bytes.TrimSpace(raw))
	r := []rune(s)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
