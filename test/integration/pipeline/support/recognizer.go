package support

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

// FakeRecognizer is a scripted recognition service.
type FakeRecognizer struct {
	Server *httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	gate     chan struct{}
	hang     bool
	lastBody []byte

	calls atomic.Int32
}

// NewFakeRecognizer starts a service answering 200 with an empty result.
func NewFakeRecognizer() *FakeRecognizer {
	f := &FakeRecognizer{status: http.StatusOK, body: `{"result":""}`}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// Endpoint is the chat completion URL of the service.
func (f *FakeRecognizer) Endpoint() string { return f.Server.URL + "/v1/chat/completions" }

// AnswerText makes the service reply with a chat completion carrying text.
func (f *FakeRecognizer) AnswerText(text string) {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": text}}},
	})
	f.Answer(http.StatusOK, string(body))
}

// Answer sets the raw reply.
func (f *FakeRecognizer) Answer(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

// Hold blocks requests until Release is called.
func (f *FakeRecognizer) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

// Release unblocks held requests.
func (f *FakeRecognizer) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Hang makes the service never answer; requests end when the client gives up.
func (f *FakeRecognizer) Hang() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = true
}

// Calls is the number of upload requests received.
func (f *FakeRecognizer) Calls() int { return int(f.calls.Load()) }

// LastRequest returns the last upload body decoded as JSON.
func (f *FakeRecognizer) LastRequest() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(f.lastBody, &m)
	return m
}

// Close stops the service.
func (f *FakeRecognizer) Close() {
	f.Release()
	f.Server.Close()
}

func (f *FakeRecognizer) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		_, _ = io.WriteString(w, "ok")
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.calls.Add(1)

	f.mu.Lock()
	f.lastBody = body
	gate, hang, status, reply := f.gate, f.hang, f.status, f.body
	f.mu.Unlock()

	if hang {
		<-r.Context().Done()
		return
	}
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}
