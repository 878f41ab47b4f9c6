package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// maxLine bounds one request line in Serve.
const maxLine = 1024 * 1024

// HandlerFunc processes a JSON-RPC request and returns a result or error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, *Error)

// Handler routes JSON-RPC methods to registered handler functions.
type Handler struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandler creates an empty method handler.
func NewHandler() *Handler {
	return &Handler{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for a method. Overwrites any existing handler.
func (h *Handler) Register(method string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[method] = fn
}

// Handle processes a single JSON-RPC request and returns a response.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, CodeInvalidRequest, "invalid jsonrpc version", nil)
	}

	h.mu.RLock()
	fn, ok := h.handlers[req.Method]
	h.mu.RUnlock()

	if !ok {
		return NewErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	}

	result, rpcErr := fn(ctx, req.Params)
	if rpcErr != nil {
		return Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   rpcErr,
		}
	}

	return NewResponse(req.ID, result)
}

// HandleRaw parses raw JSON bytes as a request, processes it, and returns a response.
func (h *Handler) HandleRaw(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return NewErrorResponse(nil, CodeParseError, "parse error: "+err.Error(), nil)
	}
	return h.Handle(ctx, req)
}

// Serve reads one request per line from r and writes one response per
// line to w until r is exhausted or ctx is done. Requests are handled in
// order. Notifications are handled but never answered; a line that does
// not parse is always answered with a parse error.
func (h *Handler) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := []byte(strings.TrimSpace(scanner.Text()))
		if len(line) == 0 {
			continue
		}

		var resp Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = NewErrorResponse(nil, CodeParseError, "parse error: "+err.Error(), nil)
		} else {
			resp = h.Handle(ctx, req)
			if req.ID == nil && isNotification(line) {
				continue
			}
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

// isNotification reports whether the request object has no "id" member.
// An explicit "id": null is still a request and gets a response.
func isNotification(line []byte) bool {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(line, &members); err != nil {
		return false
	}
	_, ok := members["id"]
	return !ok
}

// Methods returns all registered method names in sorted order.
func (h *Handler) Methods() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	methods := make([]string, 0, len(h.handlers))
	for m := range h.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// ParseParams is a helper to unmarshal JSON-RPC params into a typed struct.
func ParseParams[T any](params json.RawMessage) (T, *Error) {
	var p T
	if len(params) == 0 || string(params) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("invalid params: %v", err),
		}
	}
	return p, nil
}
