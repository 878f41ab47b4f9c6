// Package terminal runs user requests end to end: it builds the prompt,
// queries the model, dispatches the reply and records the exchange.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cgast/nexus/internal/metrics"
	"github.com/cgast/nexus/pkg/dispatch"
	"github.com/cgast/nexus/pkg/events"
	"github.com/cgast/nexus/pkg/prompt"
	"github.com/cgast/nexus/pkg/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Messages shown when the model produced nothing usable.
const (
	NoResponseOutput = "Sorry, I couldn't process your request."
	NoResponseError  = "Failed to get AI response"
)

// Model produces raw reply text for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Handler executes raw model replies.
type Handler interface {
	HandleResponse(ctx context.Context, raw string) dispatch.Result
}

// History records completed exchanges.
type History interface {
	Append(ex store.Exchange) (uint64, error)
}

// Outcome is what the front end shows for one request.
type Outcome struct {
	RequestID string           `json:"request_id"`
	Success   bool             `json:"success"`
	Output    string           `json:"output"`
	Error     string           `json:"error,omitempty"`
	Result    *dispatch.Result `json:"result,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Session owns the collaborators of a running terminal.
type Session struct {
	mu      sync.RWMutex
	model   Model
	handler Handler
	prompts *prompt.Builder

	history History
	bus     events.EventBus
	metrics *metrics.Metrics
	log     *zap.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithHistory(h History) SessionOption { return func(s *Session) { s.history = h } }

func WithEvents(bus events.EventBus) SessionOption { return func(s *Session) { s.bus = bus } }

func WithMetrics(m *metrics.Metrics) SessionOption { return func(s *Session) { s.metrics = m } }

func WithPrompts(b *prompt.Builder) SessionOption { return func(s *Session) { s.prompts = b } }

func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSession creates a session querying model and executing replies
// with handler.
func NewSession(model Model, handler Handler, opts ...SessionOption) *Session {
	s := &Session{
		model:   model,
		handler: handler,
		prompts: prompt.New(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetModel swaps the model, e.g. after the configuration changed.
// Requests already running keep the model they started with.
func (s *Session) SetModel(m Model) {
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
	s.publish(context.Background(), events.EventConfigReloaded, "model", 0)
}

// Process runs one request. It never returns an error: failures are
// reported in the Outcome.
func (s *Session) Process(ctx context.Context, input string) Outcome {
	start := time.Now()
	id := uuid.NewString()
	ctx = events.ContextWithRequest(ctx, id)
	log := s.log.With(zap.String("request_id", id))

	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()

	s.publish(ctx, events.EventRequestStart, input, 0)
	out := Outcome{RequestID: id}

	text := s.prompts.Build(input)
	s.publish(ctx, events.EventModelQuery, len(text), 0)

	modelStart := time.Now()
	raw, err := model.Generate(ctx, text)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = errors.New("empty response")
	}
	modelTime := time.Since(modelStart)
	s.metrics.ObserveModel(err == nil, modelTime)

	if err != nil {
		log.Error("model query failed", zap.Error(err), zap.Duration("duration", modelTime))
		s.publish(ctx, events.EventModelError, err.Error(), modelTime)
		out.Output = NoResponseOutput
		out.Error = NoResponseError
	} else {
		log.Debug("model replied", zap.Int("length", len(raw)), zap.Duration("duration", modelTime))
		s.publish(ctx, events.EventModelResponse, raw, modelTime)

		res := s.handler.HandleResponse(ctx, raw)
		out.Result = &res
		out.Success = !res.Failed()
		out.Output = res.Speak
		out.Error = res.Error
		if out.Output == "" && out.Success {
			out.Output = "Operation completed"
		}
	}

	out.Duration = time.Since(start)
	s.record(input, raw, out, start, log)
	s.publish(ctx, events.EventRequestEnd, out, out.Duration)
	return out
}

func (s *Session) record(input, raw string, out Outcome, at time.Time, log *zap.Logger) {
	if s.history == nil {
		return
	}
	ex := store.Exchange{
		ID:       out.RequestID,
		Time:     at,
		Input:    input,
		Raw:      raw,
		Success:  out.Success,
		Output:   out.Output,
		Error:    out.Error,
		Duration: out.Duration,
	}
	if out.Result != nil {
		if b, err := json.Marshal(out.Result); err == nil {
			ex.Result = b
		}
	}
	if _, err := s.history.Append(ex); err != nil {
		log.Warn("record history", zap.Error(err))
	}
}

func (s *Session) publish(ctx context.Context, typ events.EventType, data any, d time.Duration) {
	if s.bus == nil {
		return
	}
	ev := events.NewEvent(typ, data).WithRequest(events.RequestFrom(ctx))
	ev.Duration = d
	s.bus.Publish(ev)
}
