package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingHandler struct {
	mu       sync.Mutex
	connects int
	frames   []Payload
	errs     []error
	closes   []error
	closed   chan struct{}
	once     sync.Once
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan struct{})}
}

func (h *recordingHandler) OnConnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects++
}

func (h *recordingHandler) OnFrame(p Payload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, p)
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnClose(err error) {
	h.mu.Lock()
	h.closes = append(h.closes, err)
	h.mu.Unlock()
	h.once.Do(func() { close(h.closed) })
}

func (h *recordingHandler) snapshot() (int, []Payload, []error, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects, append([]Payload(nil), h.frames...), append([]error(nil), h.errs...), append([]error(nil), h.closes...)
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func pushServer(t *testing.T, messages []string, hold bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		if hold {
			// Drain until the client goes away.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWebSocketSourceDeliversFramesInOrder(t *testing.T) {
	server := pushServer(t, []string{"one", "two", "three"}, false)
	source := NewWebSocketSource(WebSocketOptions{URL: wsURL(server)})
	handler := newRecordingHandler()

	err := source.Run(context.Background(), handler)
	require.NoError(t, err)

	connects, frames, errs, closes := handler.snapshot()
	assert.Equal(t, 1, connects)
	require.Len(t, frames, 3)
	assert.Equal(t, "one", frames[0].Encoded)
	assert.Equal(t, "two", frames[1].Encoded)
	assert.Equal(t, "three", frames[2].Encoded)
	assert.Empty(t, errs)
	require.Len(t, closes, 1)
	assert.NoError(t, closes[0])
}

func TestWebSocketSourceStopsOnCancel(t *testing.T) {
	server := pushServer(t, []string{"frame"}, true)
	source := NewWebSocketSource(WebSocketOptions{URL: wsURL(server)})
	handler := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, handler) }()

	require.Eventually(t, func() bool {
		_, frames, _, _ := handler.snapshot()
		return len(frames) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWebSocketSourceReportsDialError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	source := NewWebSocketSource(WebSocketOptions{URL: url, HandshakeTimeout: time.Second})
	handler := newRecordingHandler()

	err := source.Run(context.Background(), handler)
	require.Error(t, err)

	connects, _, errs, closes := handler.snapshot()
	assert.Zero(t, connects)
	assert.Len(t, errs, 1)
	assert.Empty(t, closes)
}

func TestWebSocketSourceReconnects(t *testing.T) {
	server := pushServer(t, []string{"frame"}, false)
	source := NewWebSocketSource(WebSocketOptions{
		URL:        wsURL(server),
		Reconnect:  true,
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	})
	handler := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, handler) }()

	require.Eventually(t, func() bool {
		connects, _, _, _ := handler.snapshot()
		return connects >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWebSocketSourceReportsFirstOfRepeatedDialFailures(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	source := NewWebSocketSource(WebSocketOptions{
		URL:              url,
		HandshakeTimeout: time.Second,
		Reconnect:        true,
		MinBackoff:       time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		Logger:           zap.New(core),
	})
	handler := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, handler) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("websocket still unreachable").Len() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	connects, _, errs, closes := handler.snapshot()
	assert.Zero(t, connects)
	assert.Len(t, errs, 1)
	assert.Empty(t, closes)
	assert.Equal(t, 1, logs.FilterMessage("websocket error").Len())
}

func TestHandlerFuncsSkipsNil(t *testing.T) {
	var got []string
	h := HandlerFuncs{Frame: func(p Payload) { got = append(got, p.Encoded) }}
	h.OnConnect()
	h.OnError(nil)
	h.OnClose(nil)
	h.OnFrame(Payload{Encoded: "x"})
	assert.Equal(t, []string{"x"}, got)
}
