package inspector

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cgast/nexus/internal/metrics"
	"github.com/cgast/nexus/pkg/action"
	"github.com/cgast/nexus/pkg/dispatch"
	"github.com/cgast/nexus/pkg/events"
	"github.com/cgast/nexus/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestStatus(t *testing.T) {
	bus := events.NewMemoryBus(0)
	defer bus.Close()
	bus.Publish(events.NewEvent(events.EventDispatchResult, nil))
	bus.Publish(events.NewEvent(events.EventDispatchError, nil))
	bus.Publish(events.NewEvent(events.EventRequestEnd, nil))

	_, ts := newServer(t, Options{Bus: bus})

	var status map[string]any
	resp := getJSON(t, ts.URL+"/api/status", &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 3.0, status["events"])
	assert.Equal(t, 1.0, status["dispatched"])
	assert.Equal(t, 1.0, status["errors"])
	assert.Equal(t, 1.0, status["requests"])
	assert.Equal(t, 6.0, status["actions"])
}

func TestHistory(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "h.db"), 0)
	require.NoError(t, err)
	defer st.Close()
	for _, in := range []string{"one", "two", "three"} {
		_, err := st.Append(store.Exchange{Input: in, Success: true})
		require.NoError(t, err)
	}
	require.NoError(t, st.Set(store.ScopeSession, "model", "llama2"))

	_, ts := newServer(t, Options{History: st})

	var got []store.Exchange
	getJSON(t, ts.URL+"/api/history?n=2", &got)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Input)
	assert.Equal(t, "three", got[1].Input)

	resp := getJSON(t, ts.URL+"/api/history?n=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var session map[string]any
	getJSON(t, ts.URL+"/api/session", &session)
	assert.Equal(t, "llama2", session["model"])
}

func TestHistoryWithoutStore(t *testing.T) {
	_, ts := newServer(t, Options{})

	var got []store.Exchange
	resp := getJSON(t, ts.URL+"/api/history", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, got)
}

func TestEvents(t *testing.T) {
	bus := events.NewMemoryBus(0)
	defer bus.Close()
	bus.Publish(events.NewEvent(events.EventModelQuery, "a"))

	_, ts := newServer(t, Options{Bus: bus})

	var got []events.Event
	getJSON(t, ts.URL+"/api/events", &got)
	require.Len(t, got, 1)
	assert.Equal(t, events.EventModelQuery, got[0].Type)

	future := time.Now().Add(time.Hour).Format(time.RFC3339Nano)
	getJSON(t, ts.URL+"/api/events?since="+future, &got)
	assert.Empty(t, got)

	resp := getJSON(t, ts.URL+"/api/events?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	bus := events.NewMemoryBus(0)
	defer bus.Close()
	bus.Publish(events.NewEvent(events.EventRequestStart, "past"))

	_, ts := newServer(t, Options{Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readData := func() events.Event {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var ev events.Event
				require.NoError(t, json.Unmarshal([]byte(data), &ev))
				return ev
			}
		}
	}

	assert.Equal(t, "past", readData().Data)
	bus.Publish(events.NewEvent(events.EventRequestEnd, "live"))
	assert.Equal(t, "live", readData().Data)
}

func TestActions(t *testing.T) {
	_, ts := newServer(t, Options{})

	var got []action.Schema
	getJSON(t, ts.URL+"/api/actions", &got)
	require.Len(t, got, len(action.Schemas()))
	assert.Equal(t, action.KindChat, got[0].Kind)
}

func TestDispatchEndpoint(t *testing.T) {
	d, err := dispatch.New(dispatch.WithWorkdir(t.TempDir()))
	require.NoError(t, err)

	_, disabled := newServer(t, Options{Dispatcher: d})
	resp, err := http.Post(disabled.URL+"/api/dispatch", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "dispatch must be opt-in")

	_, ts := newServer(t, Options{Dispatcher: d, AllowDispatch: true})
	resp, err = http.Post(ts.URL+"/api/dispatch", "application/json", strings.NewReader(`{"type":"chat","speak":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, map[string]any{"type": "chat", "result": "hi", "speak": "hi"}, res)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveModel(true, time.Second)
	_, ts := newServer(t, Options{Metrics: m})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	found := false
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), `nexus_model_requests_total{outcome="ok"} 1`) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRemoteApproval(t *testing.T) {
	s, ts := newServer(t, Options{})

	resp, err := http.Post(ts.URL+"/api/approve", "application/json", nil)
	require.NoError(t, err)
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "no_pending_approval", status["status"])

	a := action.Action{Type: action.KindCommand, Speak: "s", Fields: map[string]any{"command": "ls"}}
	decided := make(chan bool, 1)
	go func() {
		ok, _ := s.Approve(context.Background(), a)
		decided <- ok
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Post(ts.URL+"/api/reject", "application/json", strings.NewReader(`{"feedback":"no"}`))
		require.NoError(t, err)
		var st map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
		resp.Body.Close()
		if st["status"] == "rejected" {
			break
		}
		require.True(t, time.Now().Before(deadline), "approval never became pending")
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, <-decided)
}

func TestApprovalTimeout(t *testing.T) {
	s := New(Options{ApprovalTimeout: 20 * time.Millisecond})
	ok, err := s.Approve(context.Background(), action.Action{Type: action.KindCreate})
	require.NoError(t, err)
	assert.False(t, ok)
}

type countingHandler struct{ calls atomic.Int32 }

func (h *countingHandler) HandleResponse(context.Context, string) dispatch.Result {
	h.calls.Add(1)
	return dispatch.Result{Type: action.KindChat, Speak: "ok", Result: "ok"}
}

func post(t *testing.T, url, contentType, origin, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMutatingRoutesRefuseCrossOrigin(t *testing.T) {
	h := &countingHandler{}
	_, ts := newServer(t, Options{Dispatcher: h, AllowDispatch: true})
	reply := `{"type":"command","speak":"s","command":"touch pwned"}`

	tests := []struct {
		name        string
		path        string
		contentType string
		origin      string
		want        int
	}{
		{"foreign origin dispatch", "/api/dispatch", "text/plain", "https://evil.example", http.StatusForbidden},
		{"foreign origin json dispatch", "/api/dispatch", "application/json", "https://evil.example", http.StatusForbidden},
		{"foreign origin approve", "/api/approve", "text/plain", "https://evil.example", http.StatusForbidden},
		{"foreign origin reject", "/api/reject", "application/json", "http://localhost:9999", http.StatusForbidden},
		{"form body without origin", "/api/dispatch", "text/plain", "", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+tt.path, tt.contentType, tt.origin, reply)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
	assert.Zero(t, h.calls.Load(), "refused requests must not reach the dispatcher")

	resp := post(t, ts.URL+"/api/dispatch", "application/json", ts.URL, reply)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), h.calls.Load())

	resp = post(t, ts.URL+"/api/dispatch", "application/json; charset=utf-8", "", reply)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestPreflightNotAllowed(t *testing.T) {
	_, ts := newServer(t, Options{Dispatcher: &countingHandler{}, AllowDispatch: true})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/dispatch", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRejectInvalidBody(t *testing.T) {
	_, ts := newServer(t, Options{})

	resp := post(t, ts.URL+"/api/reject", "application/json", "", `{"feedback":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/reject", "application/json", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAddrDefaultsToLoopback(t *testing.T) {
	assert.Equal(t, "127.0.0.1:4200", New(Options{}).Addr(4200))
	assert.Equal(t, "[::1]:80", New(Options{Host: "::1"}).Addr(80))
}
