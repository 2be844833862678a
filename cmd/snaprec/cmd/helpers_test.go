package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/snaprec/internal/testutil"
)

// isolate runs the test in an empty directory with no config file reachable.
func isolate(t *testing.T) {
	t.Helper()

	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root, app := newRootCommand()
	t.Cleanup(app.close)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// fakeRecognizer serves the chat endpoint with status/body and answers the
// status path with 200. It points the configuration at itself.
func fakeRecognizer(t *testing.T, status int, body string) *atomic.Int32 {
	t.Helper()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Setenv("SNAPREC_RECOGNITION_ENDPOINT", ts.URL+"/v1/chat/completions")
	return &calls
}

func chatBody(text string) string {
	return `{"choices":[{"message":{"role":"assistant","content":"` + text + `"}}]}`
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	return testutil.WriteTempFile(t, "capture.png", testutil.EncodePNG(t, testutil.CreateQuadrantImage(64, 48)))
}
