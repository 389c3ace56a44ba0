package agentapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optimus-console-go/internal/types"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Options{URL: srv.URL})
	require.NoError(t, err)
	return client, srv
}

func TestBaseURL(t *testing.T) {
	cases := []struct {
		raw  string
		port int
		want string
	}{
		{"http://10.0.0.5", 9500, "http://10.0.0.5:9500"},
		{"http://10.0.0.5:8000/", 0, "http://10.0.0.5:8000"},
		{"http://10.0.0.5:8000", 9500, "http://10.0.0.5:9500"},
		{"agent.local", 9500, "http://agent.local:9500"},
		{"https://agent.example.com/api/", 443, "https://agent.example.com:443/api"},
	}
	for _, tc := range cases {
		u, err := BaseURL(tc.raw, tc.port)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, u.String())
	}

	for _, bad := range []string{"", "ftp://host", "http://"} {
		_, err := BaseURL(bad, 9500)
		assert.Error(t, err, bad)
	}
}

func TestStreamURL(t *testing.T) {
	c, err := New(Options{URL: "http://10.0.0.5", Port: 9500})
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:9500/ws/obs", c.StreamURL())

	c, err = New(Options{URL: "https://agent.example.com", StreamPath: "obs/stream"})
	require.NoError(t, err)
	assert.Equal(t, "wss://agent.example.com/obs/stream", c.StreamURL())
}

func TestSendCommand(t *testing.T) {
	var got commandRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/send_text", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "go left"})
	})
	client, _ := newTestClient(t, mux)

	resp, err := client.SendCommand(context.Background(), "where is the tree", types.TaskPlanning)
	require.NoError(t, err)
	assert.Equal(t, "go left", resp)
	assert.Equal(t, commandRequest{Text: "where is the tree", Task: "planning"}, got)
}

func TestSendCommandWithoutResponseField(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/send_text", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	client, _ := newTestClient(t, mux)

	resp, err := client.SendCommand(context.Background(), "hi", types.TaskCaptioning)
	require.NoError(t, err)
	assert.Equal(t, NoResponse, resp)
}

func TestResetSendsDevice(t *testing.T) {
	var got resetRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"observation":"b64data"}`))
	})
	client, _ := newTestClient(t, mux)

	obs, err := client.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b64data", obs)
	assert.Equal(t, DefaultDevice, got.Device)
}

func TestResetWithoutObservation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	client, _ := newTestClient(t, mux)

	obs, err := client.Reset(context.Background())
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestProtocolErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_obs", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "environment not ready", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/initial_text", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	client, _ := newTestClient(t, mux)

	_, err := client.Observation(context.Background())
	require.Error(t, err)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.KindProtocol, typed.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, typed.Status)
	assert.Contains(t, err.Error(), "environment not ready")

	_, err = client.InitialText(context.Background())
	assert.True(t, types.IsKind(err, types.KindProtocol))
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := New(Options{URL: addr})
	require.NoError(t, err)

	ok, err := client.CheckStatus(context.Background())
	assert.False(t, ok)
	assert.True(t, types.IsKind(err, types.KindConnection))

	err = client.Pause(context.Background())
	assert.True(t, types.IsKind(err, types.KindConnection))
}

func TestCheckStatus(t *testing.T) {
	healthy := true
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	client, _ := newTestClient(t, mux)

	ok, err := client.CheckStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	healthy = false
	ok, err = client.CheckStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPauseResumeIgnoreBody(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	for _, path := range []string{"/pause", "/resume"} {
		path := path
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, r.Method+" "+path)
			_, _ = w.Write([]byte("paused, not json"))
		})
	}
	client, _ := newTestClient(t, mux)

	require.NoError(t, client.Pause(context.Background()))
	require.NoError(t, client.Resume(context.Background()))
	assert.Equal(t, []string{"POST /pause", "POST /resume"}, calls)
}

func TestDiagnostics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gpu", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"A100","memory_used":1024}`))
	})
	mux.HandleFunc("/receive_text", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"mining wood"}`))
	})
	client, _ := newTestClient(t, mux)

	info, err := client.GPU(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A100", info["name"])

	text, err := client.ReceiveText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mining wood", text)
}

func TestOversizedBodyIsProtocolError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_obs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"observation":"` + strings.Repeat("A", 4096) + `"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client, err := New(Options{URL: srv.URL, MaxBodyBytes: 128})
	require.NoError(t, err)

	_, err = client.Observation(context.Background())
	assert.True(t, types.IsKind(err, types.KindProtocol))
}
