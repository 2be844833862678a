package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/MeKo-Tech/snaprec/internal/testutil"
	"github.com/stretchr/testify/require"
)

// stubUploader answers every upload with text or err. A non-nil gate
// blocks each call until it is closed.
type stubUploader struct {
	text string
	err  error
	gate chan struct{}
}

func (u *stubUploader) Recognize(ctx context.Context, _ recognition.Request) (*recognition.Response, error) {
	if u.gate != nil {
		select {
		case <-u.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if u.err != nil {
		return nil, u.err
	}
	return &recognition.Response{Text: u.text, Source: recognition.SourceChoices, StatusCode: http.StatusOK}, nil
}

type stubProber struct {
	health *recognition.Health
	err    error
}

func (p stubProber) Health(context.Context) (*recognition.Health, error) { return p.health, p.err }

func testConfig() Config {
	return Config{CORSOrigin: "*", MaxUploadMB: 4, TimeoutSec: 10}
}

func newTestServer(t *testing.T, u pipeline.Uploader, cfg Config, opts ...Option) (*Server, *pipeline.Controller) {
	t.Helper()

	ctrl, err := pipeline.NewBuilder().WithUploader(u).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	return NewServer(cfg, ctrl, opts...), ctrl
}

func captureImage(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CreateQuadrantImage(40, 30))
}

// multipartCapture builds a POST /capture request carrying data as the
// "image" field plus extra form fields.
func multipartCapture(t *testing.T, target string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "shot.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func waitTerminal(t *testing.T, ctrl *pipeline.Controller) pipeline.Snapshot {
	t.Helper()

	var snap pipeline.Snapshot
	require.Eventually(t, func() bool {
		snap = ctrl.Latest()
		return snap.State.Terminal() && !ctrl.Busy()
	}, 10*time.Second, 10*time.Millisecond)
	return snap
}
