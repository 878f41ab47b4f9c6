// Package inspector serves a read-mostly HTTP view of a running nexus:
// status, exchange history, live events, the action schema and metrics.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cgast/nexus/internal/metrics"
	"github.com/cgast/nexus/pkg/action"
	"github.com/cgast/nexus/pkg/dispatch"
	"github.com/cgast/nexus/pkg/events"
	"github.com/cgast/nexus/pkg/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	// maxDispatchBody bounds POST /api/dispatch bodies.
	maxDispatchBody = 1 << 20

	defaultHost = "127.0.0.1"
)

// HistoryReader is the part of the store the inspector reads.
type HistoryReader interface {
	Recent(n int) ([]store.Exchange, error)
	List(scope string) (map[string]any, error)
}

// Handler executes raw model replies.
type Handler interface {
	HandleResponse(ctx context.Context, raw string) dispatch.Result
}

// Options wire the server to the rest of the process. Nil fields turn the
// matching endpoints into empty responses.
type Options struct {
	Bus     events.EventBus
	History HistoryReader
	Metrics *metrics.Metrics
	Log     *zap.Logger

	// Dispatcher backs POST /api/dispatch, which is only mounted when
	// AllowDispatch is set.
	Dispatcher    Handler
	AllowDispatch bool

	// ApprovalTimeout bounds how long Approve waits for a decision.
	ApprovalTimeout time.Duration

	// Host is the interface Start binds. Empty means 127.0.0.1.
	Host string
}

// Server is the inspector HTTP server.
type Server struct {
	opts      Options
	log       *zap.Logger
	router    chi.Router
	startTime time.Time

	// Approval decisions posted from the UI are handed to the one
	// pending Approve call, if any.
	approvalCh chan ApprovalAction
	pendingMu  sync.Mutex
	pending    string
}

// ApprovalAction represents an approve/reject action from the inspector.
type ApprovalAction struct {
	Action   string `json:"action"` // "approve" or "reject"
	Feedback string `json:"feedback,omitempty"`
}

// New creates a new inspector server.
func New(opts Options) *Server {
	s := &Server{
		opts:       opts,
		log:        opts.Log,
		startTime:  time.Now(),
		approvalCh: make(chan ApprovalAction),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cors)
			r.Get("/status", s.handleStatus)
			r.Get("/history", s.handleHistory)
			r.Get("/session", s.handleSession)
			r.Get("/events", s.handleEvents)
			r.Get("/events/stream", s.handleStream)
			r.Get("/actions", s.handleActions)
			r.Get("/approval", s.handlePending)
		})
		// Mutating routes are same-origin only and take JSON bodies, so a
		// page on another site cannot drive them from the user's browser.
		r.Group(func(r chi.Router) {
			r.Use(sameOrigin, requireJSON)
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
			if opts.AllowDispatch && opts.Dispatcher != nil {
				r.Post("/dispatch", s.handleDispatch)
			}
		})
	})
	if opts.Metrics != nil {
		r.With(cors).Handle("/metrics", opts.Metrics.Handler())
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the host:port Start binds for port.
func (s *Server) Addr(port int) string {
	host := s.opts.Host
	if host == "" {
		host = defaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Start serves on port until ctx is done.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              s.Addr(port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("inspector listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("inspector: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("inspector shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("inspector: %w", err)
		}
		return nil
	}
}

// StartAsync starts the server in a goroutine and returns immediately.
// Serve errors are logged.
func (s *Server) StartAsync(ctx context.Context, port int) {
	go func() {
		if err := s.Start(ctx, port); err != nil {
			s.log.Error("inspector stopped", zap.Error(err))
		}
	}()
}

// Approve implements dispatch.Approver: it waits for a decision posted to
// /api/approve or /api/reject.
func (s *Server) Approve(ctx context.Context, a action.Action) (bool, error) {
	s.pendingMu.Lock()
	if s.pending != "" {
		s.pendingMu.Unlock()
		return false, errors.New("another action is awaiting approval")
	}
	s.pending = dispatch.Describe(a)
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		s.pending = ""
		s.pendingMu.Unlock()
	}()

	var timeout <-chan time.Time
	if s.opts.ApprovalTimeout > 0 {
		t := time.NewTimer(s.opts.ApprovalTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case act := <-s.approvalCh:
		return act.Action == "approve", nil
	case <-timeout:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var history []events.Event
	if s.opts.Bus != nil {
		history = s.opts.Bus.History(time.Time{})
	}
	requests, dispatched, errorCount := 0, 0, 0
	for _, ev := range history {
		switch ev.Type {
		case events.EventRequestEnd:
			requests++
		case events.EventDispatchResult:
			dispatched++
		case events.EventDispatchError, events.EventModelError:
			errorCount++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":     time.Since(s.startTime).String(),
		"events":     len(history),
		"requests":   requests,
		"dispatched": dispatched,
		"errors":     errorCount,
		"actions":    len(action.Kinds()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, []store.Exchange{})
		return
	}
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "n must be a non-negative integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	recent, err := s.opts.History.Recent(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recent == nil {
		recent = []store.Exchange{}
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	items, err := s.opts.History.List(store.ScopeSession)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			http.Error(w, "since must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		since = t
	}
	history := []events.Event{}
	if s.opts.Bus != nil {
		history = append(history, s.opts.Bus.History(since)...)
	}
	writeJSON(w, http.StatusOK, history)
}

// handleStream sends past and live events as Server-Sent Events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || s.opts.Bus == nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.opts.Bus.Subscribe()
	defer s.opts.Bus.Unsubscribe(ch)

	for _, ev := range s.opts.Bus.History(time.Time{}) {
		writeEvent(w, ev)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, action.Schemas())
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDispatchBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	res := s.opts.Dispatcher.HandleResponse(r.Context(), string(body))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pendingMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending != "", "action": pending})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	select {
	case s.approvalCh <- ApprovalAction{Action: "approve"}:
		writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_pending_approval"})
	}
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feedback string `json:"feedback"`
	}
	// An empty body rejects without feedback.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case s.approvalCh <- ApprovalAction{Action: "reject", Feedback: body.Feedback}:
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_pending_approval"})
	}
}

func writeEvent(w io.Writer, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// sameOrigin refuses browser requests sent from a page on another origin.
// Clients that send no Origin header, like curl, pass.
func sameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
			http.Error(w, "cross-origin request refused", http.StatusForbidden)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "cross-origin request refused", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireJSON only admits application/json bodies, which browsers cannot
// send cross-origin without a preflight.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
		next.ServeHTTP(w, r)
	})
}
