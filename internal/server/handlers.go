package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/history"
	"github.com/MeKo-Tech/snaprec/internal/orientation"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/transform"
	"github.com/MeKo-Tech/snaprec/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// statusHandler probes the recognition service.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "status probe not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	h, err := s.prober.Health(ctx)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, StatusResponse{
			Reachable:  false,
			StatusCode: failure.StatusOf(err),
			Kind:       string(failure.KindOf(err)),
			Error:      failure.Reason(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Reachable:  true,
		URL:        h.URL,
		StatusCode: h.StatusCode,
		LatencyMs:  h.Latency.Milliseconds(),
	})
}

// statsHandler returns run counters and memory figures.
func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

// stateHandler returns the latest snapshot.
func (s *Server) stateHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Latest())
}

// historyHandler lists results newest first. limit defaults to the display
// cap; limit=0 returns everything.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit := history.DisplayLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	results := s.ctrl.History(limit)
	writeJSON(w, http.StatusOK, HistoryResponse{
		Results: results,
		Count:   len(results),
		Total:   s.ctrl.Latest().HistoryLen,
	})
}

// clearHistoryHandler drops every stored result.
func (s *Server) clearHistoryHandler(w http.ResponseWriter, _ *http.Request) {
	n := s.ctrl.ClearHistory()
	w.Header().Set("X-Cleared-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusNoContent)
}

// previewHandler serves the last processed image.
func (s *Server) previewHandler(w http.ResponseWriter, _ *http.Request) {
	data, ok := s.ctrl.Preview()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no processed image yet"})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// captureHandler submits a capture. The image arrives either as the
// multipart field "image" or as the raw request body. Optional form or
// query values: filter, factor, orientation, source, wait.
func (s *Server) captureHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	data, source, err := readCapture(r, limit)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			captureRequestsTotal.WithLabelValues("too_large").Inc()
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("upload exceeds %d MB", s.maxUploadMB),
				Kind:  string(failure.KindPayloadTooLarge),
			})
			return
		}
		captureRequestsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	filter, tag, err := captureOptions(r)
	if err != nil {
		captureRequestsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	run, err := s.ctrl.Submit(r.Context(), pipeline.CapturedImage{
		Data:        data,
		Source:      source,
		Orientation: tag,
		Filter:      filter,
	})
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		captureRequestsTotal.WithLabelValues("busy").Inc()
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "busy", Reason: err.Error()})
		return
	case errors.Is(err, pipeline.ErrClosed):
		captureRequestsTotal.WithLabelValues("closed").Inc()
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "shutting down"})
		return
	case err != nil:
		captureRequestsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	captureRequestsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("capture accepted", "run_id", run.ID(), "source", run.Source(), "bytes", len(data))

	wait, _ := strconv.ParseBool(r.FormValue("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, CaptureResponse{RunID: run.ID(), State: pipeline.StateProcessing})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	final, runErr := run.Wait(ctx)
	if ctx.Err() != nil && final.State == "" {
		// The run keeps going; the client can follow it on /state or /ws.
		writeJSON(w, http.StatusAccepted, CaptureResponse{RunID: run.ID(), State: s.ctrl.Latest().State})
		return
	}

	status := http.StatusOK
	if runErr != nil {
		status = failure.HTTPStatus(runErr)
	}
	writeJSON(w, status, CaptureResponse{RunID: run.ID(), State: final.State, Snapshot: &final})
}

// readCapture extracts the image bytes and a source name from r.
func readCapture(r *http.Request, limit int64) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		data   []byte
		source string
	)
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, "", fmt.Errorf("failed to parse form data: %w", err)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", errors.New("no image file provided")
		}
		defer func() { _ = file.Close() }()

		data, err = io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read image data: %w", err)
		}
		source = header.Filename
	} else {
		var err error
		data, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read image data: %w", err)
		}
	}

	if len(data) == 0 {
		return nil, "", errors.New("no image data provided")
	}
	if v := r.FormValue("source"); v != "" {
		source = v
	}
	return data, source, nil
}

// captureOptions reads the per-capture filter and orientation. Empty values
// leave the controller defaults in place.
func captureOptions(r *http.Request) (transform.Filter, orientation.Tag, error) {
	var (
		filter transform.Filter
		tag    orientation.Tag
	)

	name := strings.TrimSpace(r.FormValue("filter"))
	factor := strings.TrimSpace(r.FormValue("factor"))
	if name == "" && factor != "" {
		return filter, tag, errors.New("factor requires a filter")
	}
	if name != "" {
		if factor != "" && !strings.Contains(name, ":") {
			name += ":" + factor
		}
		f, err := transform.ParseFilter(name)
		if err != nil {
			return filter, tag, err
		}
		filter = f
	}

	if v := r.FormValue("orientation"); v != "" {
		t, err := orientation.ParseTag(v)
		if err != nil {
			return filter, tag, err
		}
		tag = t
	}
	return filter, tag, nil
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
