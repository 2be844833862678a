package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialSnapshots(t *testing.T, s *Server) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return ts, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// readUntil reads messages until one of type typ satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, match func(json.RawMessage) bool) wsEnvelope {
	t.Helper()

	for range 50 {
		env := readEnvelope(t, conn)
		if env.Type == typ && (match == nil || match(env.Payload)) {
			return env
		}
	}
	t.Fatalf("no %s message received", typ)
	return wsEnvelope{}
}

func snapshotOf(t *testing.T, raw json.RawMessage) pipeline.Snapshot {
	t.Helper()
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	return snap
}

func TestWebSocket_StreamsSnapshots(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{text: "streamed text"}, testConfig())
	ts, conn := dialSnapshots(t, s)

	first := readEnvelope(t, conn)
	require.Equal(t, msgSnapshot, first.Type)
	assert.Equal(t, pipeline.StateIdle, snapshotOf(t, first.Payload).State)

	req := multipartCapture(t, ts.URL+"/capture", captureImage(t), nil)
	req.RequestURI = ""
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var seen []pipeline.State
	done := readUntil(t, conn, msgSnapshot, func(raw json.RawMessage) bool {
		snap := snapshotOf(t, raw)
		seen = append(seen, snap.State)
		return snap.State.Terminal()
	})

	final := snapshotOf(t, done.Payload)
	assert.Equal(t, pipeline.StateCompleted, final.State)
	require.NotNil(t, final.Result)
	assert.Equal(t, "streamed text", final.Result.Text)
	assert.Equal(t, 1, final.HistoryLen)
	assert.Contains(t, seen, pipeline.StateUploading)
}

func TestWebSocket_ClientMessages(t *testing.T) {
	s, ctrl := newTestServer(t, &stubUploader{text: "x"}, testConfig())
	w := serve(s, multipartCapture(t, "/capture?wait=1", captureImage(t), nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, conn := dialSnapshots(t, s)
	assert.Equal(t, msgSnapshot, readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: msgPing}))
	readUntil(t, conn, msgPong, nil)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: msgClearHistory}))
	cleared := readUntil(t, conn, msgHistoryCleared, nil)
	assert.JSONEq(t, `{"removed":1}`, string(cleared.Payload))
	assert.Empty(t, ctrl.History(0))

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "reboot"}))
	bad := readUntil(t, conn, msgError, nil)
	assert.Contains(t, string(bad.Payload), "unsupported message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	bad = readUntil(t, conn, msgError, nil)
	assert.Contains(t, string(bad.Payload), "invalid message")
}

func TestWebSocket_ClosesWhenControllerCloses(t *testing.T) {
	s, ctrl := newTestServer(t, &stubUploader{}, testConfig())
	_, conn := dialSnapshots(t, s)
	assert.Equal(t, msgSnapshot, readEnvelope(t, conn).Type)

	require.NoError(t, ctrl.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}

type failingWriter struct{ calls int }

func (f *failingWriter) WriteMessage(int, []byte) error {
	f.calls++
	return errors.New("broken pipe")
}

func TestSendWebSocketMessage_ReportsBrokenConnection(t *testing.T) {
	s, _ := newTestServer(t, &stubUploader{}, testConfig())
	w := &failingWriter{}
	assert.False(t, s.sendWebSocketMessage(w, WebSocketMessage{Type: msgPong}))
	assert.Equal(t, 1, w.calls)
}
