package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServer_HealthHandler(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{}, testConfig())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request success", http.MethodGet, http.StatusOK},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			if tt.expectedStatus == http.StatusOK {
				resp := decode[HealthResponse](t, w)
				assert.Equal(t, "healthy", resp.Status)
				assert.Equal(t, "dev", resp.Version)
				assert.NotEmpty(t, resp.Time)
			}
		})
	}
}

func TestServer_CaptureWaitCompletes(t *testing.T) {
	s, ctrl := newTestServer(t, &stubUploader{text: "a red, green, blue and white card"}, testConfig())

	req := multipartCapture(t, "/capture", captureImage(t), map[string]string{
		"wait":        "true",
		"filter":      "contrast",
		"factor":      "1.8",
		"orientation": "90",
	})
	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[CaptureResponse](t, w)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, pipeline.StateCompleted, resp.State)
	require.NotNil(t, resp.Snapshot)
	require.NotNil(t, resp.Snapshot.Result)
	assert.Equal(t, "a red, green, blue and white card", resp.Snapshot.Result.Text)
	assert.Equal(t, "shot.png", resp.Snapshot.Result.SourceImage)
	assert.Equal(t, "contrast:1.8", resp.Snapshot.Result.Filter)

	assert.Len(t, ctrl.History(0), 1)
}

func TestServer_CaptureRawBodyIsAsync(t *testing.T) {
	s, ctrl := newTestServer(t, &stubUploader{text: "ok"}, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/capture?source=cam-7.png", bytes.NewReader(captureImage(t)))
	req.Header.Set("Content-Type", "image/png")
	w := serve(s, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[CaptureResponse](t, w)
	assert.Equal(t, pipeline.StateProcessing, resp.State)
	assert.Nil(t, resp.Snapshot)

	final := waitTerminal(t, ctrl)
	assert.Equal(t, pipeline.StateCompleted, final.State)
	assert.Equal(t, "cam-7.png", final.Source)
	assert.Equal(t, resp.RunID, final.RunID)
}

func TestServer_CaptureRejectsBadInput(t *testing.T) {
	s, ctrl := newTestServer(t, &stubUploader{text: "ok"}, testConfig())
	img := captureImage(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"empty raw body", httptest.NewRequest(http.MethodPost, "/capture", nil)},
		{"unknown filter", multipartCapture(t, "/capture", img, map[string]string{"filter": "emboss"})},
		{"factor without filter", multipartCapture(t, "/capture", img, map[string]string{"factor": "2"})},
		{"negative factor", multipartCapture(t, "/capture", img, map[string]string{"filter": "brightness", "factor": "-1"})},
		{"factor on fixed filter", multipartCapture(t, "/capture", img, map[string]string{"filter": "sepia", "factor": "2"})},
		{"unknown orientation", multipartCapture(t, "/capture", img, map[string]string{"orientation": "45"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
		})
	}
	assert.Equal(t, pipeline.StateIdle, ctrl.State(), "rejected requests never reach the controller")
}

func TestServer_CaptureMultipartWithoutImage(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{}, testConfig())

	req := multipartCapture(t, "/capture", []byte("x"), nil)
	// rename the field so "image" is missing
	body := strings.Replace(readAll(t, req), `name="image"`, `name="photo"`, 1)
	req2 := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body))
	req2.Header.Set("Content-Type", req.Header.Get("Content-Type"))

	w := serve(s, req2)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "no image")
}

func readAll(t *testing.T, req *http.Request) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(req.Body)
	require.NoError(t, err)
	return buf.String()
}

func TestServer_CaptureTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadMB = 1
	s, _ := newTestServer(t, &stubUploader{}, cfg)

	req := httptest.NewRequest(http.MethodPost, "/capture", bytes.NewReader(make([]byte, 2<<20)))
	req.Header.Set("Content-Type", "image/jpeg")
	w := serve(s, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, string(failure.KindPayloadTooLarge), decode[ErrorResponse](t, w).Kind)
}

func TestServer_CaptureBusy(t *testing.T) {
	u := &stubUploader{text: "ok", gate: make(chan struct{})}
	s, ctrl := newTestServer(t, u, testConfig())

	first := serve(s, multipartCapture(t, "/capture", captureImage(t), nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := serve(s, multipartCapture(t, "/capture", captureImage(t), nil))
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "busy", decode[ErrorResponse](t, second).Error)

	close(u.gate)
	assert.Equal(t, pipeline.StateCompleted, waitTerminal(t, ctrl).State)
	assert.Len(t, ctrl.History(0), 1)
}

func TestServer_CaptureFailuresMapToStatus(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		upload   error
		status   int
		wantKind failure.Kind
	}{
		{"server error", nil, failure.FromStatus("upload", 500, ""), http.StatusBadGateway, failure.KindServerError},
		{"timeout", nil, failure.New(failure.KindTimeout, "upload", errors.New("deadline")), http.StatusGatewayTimeout, failure.KindTimeout},
		{"remote 413", nil, failure.FromStatus("upload", 413, ""), http.StatusRequestEntityTooLarge, failure.KindPayloadTooLarge},
		{"undecodable capture", []byte("definitely not an image"), nil, http.StatusUnprocessableEntity, failure.KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ctrl := newTestServer(t, &stubUploader{text: "unused", err: tt.upload}, testConfig())

			data := tt.data
			if data == nil {
				data = captureImage(t)
			}
			w := serve(s, multipartCapture(t, "/capture?wait=1", data, nil))
			require.Equal(t, tt.status, w.Code, w.Body.String())

			resp := decode[CaptureResponse](t, w)
			assert.Equal(t, pipeline.StateFailed, resp.State)
			require.NotNil(t, resp.Snapshot)
			assert.Equal(t, tt.wantKind, resp.Snapshot.Kind)
			assert.NotEmpty(t, resp.Snapshot.Reason)
			assert.Empty(t, ctrl.History(0))
		})
	}
}

func TestServer_HistoryAndClear(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{text: "result"}, testConfig())
	for range 3 {
		w := serve(s, multipartCapture(t, "/capture?wait=true", captureImage(t), nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(s, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HistoryResponse](t, w)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, 3, resp.Total)
	assert.True(t, !resp.Results[0].Timestamp.Before(resp.Results[2].Timestamp), "newest first")

	w = serve(s, httptest.NewRequest(http.MethodGet, "/history?limit=1", nil))
	resp = decode[HistoryResponse](t, w)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 3, resp.Total)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/history?limit=-2", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodDelete, "/history", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-Cleared-Count"))

	w = serve(s, httptest.NewRequest(http.MethodGet, "/history?limit=0", nil))
	resp = decode[HistoryResponse](t, w)
	assert.Zero(t, resp.Count)
	assert.Zero(t, resp.Total)
}

func TestServer_StateAndPreview(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{text: "ok"}, testConfig())

	w := serve(s, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pipeline.StateIdle, decode[pipeline.Snapshot](t, w).State)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/preview", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, multipartCapture(t, "/capture?wait=1", captureImage(t), nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/preview", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8}, w.Body.Bytes()[:2])

	w = serve(s, httptest.NewRequest(http.MethodGet, "/state", nil))
	snap := decode[pipeline.Snapshot](t, w)
	assert.Equal(t, pipeline.StateCompleted, snap.State)
	assert.Len(t, snap.History, 1)
}

func TestServer_StatusHandler(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s, _ := newTestServer(t, &stubUploader{}, testConfig())
		w := serve(s, httptest.NewRequest(http.MethodGet, "/status", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("reachable", func(t *testing.T) {
		p := stubProber{health: &recognition.Health{URL: "http://rec/api/status", StatusCode: 200, Latency: 12 * time.Millisecond}}
		s, _ := newTestServer(t, &stubUploader{}, testConfig(), WithProber(p))

		w := serve(s, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[StatusResponse](t, w)
		assert.True(t, resp.Reachable)
		assert.Equal(t, "http://rec/api/status", resp.URL)
		assert.Equal(t, int64(12), resp.LatencyMs)
	})

	t.Run("unreachable", func(t *testing.T) {
		p := stubProber{err: failure.New(failure.KindConnectionRefused, "status", errors.New("connection refused"))}
		s, _ := newTestServer(t, &stubUploader{}, testConfig(), WithProber(p))

		w := serve(s, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusBadGateway, w.Code)
		resp := decode[StatusResponse](t, w)
		assert.False(t, resp.Reachable)
		assert.Equal(t, string(failure.KindConnectionRefused), resp.Kind)
		assert.NotEmpty(t, resp.Error)
	})
}

func TestServer_Stats(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{text: "ok"}, testConfig())
	w := serve(s, multipartCapture(t, "/capture?wait=1", captureImage(t), nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[pipeline.Stats](t, w)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, 1, stats.HistoryLen)
	assert.Positive(t, stats.Memory.Goroutines)
}

func TestServer_NotFound(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{}, testConfig())
	w := serve(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decode[ErrorResponse](t, w).Error)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{}, testConfig())
	serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "snaprec_http_requests_total")
	assert.Contains(t, w.Body.String(), `endpoint="/health"`)
}
