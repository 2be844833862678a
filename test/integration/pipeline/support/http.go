package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/snaprec/internal/server"
)

// HTTPState tracks the capture server and the last response.
type HTTPState struct {
	Server *httptest.Server

	StatusCode int
	Body       []byte
	Header     http.Header
}

// StartServer serves the capture API for the scenario's controller.
func (tc *TestContext) StartServer() error {
	if tc.Controller == nil {
		if err := tc.StartPipeline(); err != nil {
			return err
		}
	}
	srv := server.NewServer(server.Config{MaxUploadMB: 8, TimeoutSec: 15}, tc.Controller)
	tc.HTTP.Server = httptest.NewServer(srv.Router())
	return nil
}

// Do sends a request to the capture server and records the response.
func (h *HTTPState) Do(method, path string, body io.Reader, contentType string) error {
	if h.Server == nil {
		return fmt.Errorf("capture server is not running")
	}
	req, err := http.NewRequest(method, h.Server.URL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := h.Server.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	h.StatusCode = resp.StatusCode
	h.Header = resp.Header
	h.Body, err = io.ReadAll(resp.Body)
	return err
}

// PostCapture uploads data as the multipart "image" field.
func (h *HTTPState) PostCapture(path, filename string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return h.Do(http.MethodPost, path, &buf, mw.FormDataContentType())
}

// Field looks up a dotted path such as "snapshot.result.text" in the JSON
// body and renders it as a string.
func (h *HTTPState) Field(path string) (string, error) {
	return jsonField(h.Body, path)
}

func jsonField(body []byte, path string) (string, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("response is not JSON: %w: %s", err, body)
	}
	for _, key := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return "", fmt.Errorf("field %q not found in %s", path, body)
			}
			v = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return "", fmt.Errorf("index %q out of range in %q", key, path)
			}
			v = node[i]
		default:
			return "", fmt.Errorf("field %q not found in %s", path, body)
		}
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		out, _ := json.Marshal(x)
		return string(out), nil
	}
}

// Close stops the capture server.
func (h *HTTPState) Close() {
	if h.Server != nil {
		h.Server.Close()
		h.Server = nil
	}
}
