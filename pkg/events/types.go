package events

import (
	"context"
	"time"
)

// EventType identifies the kind of event emitted by the runtime.
type EventType string

const (
	EventRequestStart   EventType = "request.start"
	EventRequestEnd     EventType = "request.end"
	EventModelQuery     EventType = "model.query"
	EventModelResponse  EventType = "model.response"
	EventModelError     EventType = "model.error"
	EventDispatchStart  EventType = "dispatch.start"
	EventDispatchResult EventType = "dispatch.result"
	EventDispatchError  EventType = "dispatch.error"
	EventApprovalAsked  EventType = "approval.requested"
	EventApprovalDenied EventType = "approval.denied"
	EventMonitorSample  EventType = "monitor.sample"
	EventRecommendation EventType = "monitor.recommendation"
	EventConfigReloaded EventType = "config.reloaded"
	EventAgentMessage   EventType = "agent.message"
)

// Event represents a single runtime event.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"request_id,omitempty"`
	Data      any           `json:"data"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, data any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// WithRequest tags the event with the request it belongs to.
func (e Event) WithRequest(id string) Event {
	e.RequestID = id
	return e
}

type requestKey struct{}

// ContextWithRequest returns a context carrying the request id, so that
// events published further down are tagged with it.
func ContextWithRequest(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

// RequestFrom returns the request id carried by ctx, or "".
func RequestFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestKey{}).(string)
	return id
}
