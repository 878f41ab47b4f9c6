package protocol

import "encoding/json"

// JSON-RPC 2.0 message types for agent mode communication.

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"` // string or int; nil for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application-specific error codes.
const (
	CodeModelUnavailable = -32000
	CodeHistoryFailed    = -32001
	CodeSampleFailed     = -32002
)

// Method constants for all supported JSON-RPC methods.
const (
	// Prompt construction and reply dispatch.
	MethodPromptBuild    = "prompt.build"
	MethodResponseHandle = "response.handle"

	// Full request: prompt, model, dispatch.
	MethodRequestProcess = "request.process"

	// Action discovery.
	MethodActionsList = "actions.list"

	// Exchange history.
	MethodHistory = "history"

	// Host telemetry.
	MethodSysinfoSnapshot = "sysinfo.snapshot"
)

// NewResponse creates a successful response.
func NewResponse(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Parameter types.

// PromptBuildParams holds parameters for "prompt.build".
type PromptBuildParams struct {
	Input string `json:"input"`
}

// ResponseHandleParams holds parameters for "response.handle". Raw is the
// model reply text, passed through unparsed.
type ResponseHandleParams struct {
	Raw string `json:"raw"`
}

// RequestProcessParams holds parameters for "request.process".
type RequestProcessParams struct {
	Input string `json:"input"`
}

// HistoryParams holds parameters for "history".
type HistoryParams struct {
	Limit int `json:"limit,omitempty"`
}

// SysinfoParams holds parameters for "sysinfo.snapshot".
type SysinfoParams struct {
	Info    string `json:"info,omitempty"` // cpu, memory, disk; "" for all
	Analyze bool   `json:"analyze,omitempty"`
}

// PromptBuildResult holds the result of "prompt.build".
type PromptBuildResult struct {
	Prompt string `json:"prompt"`
}

// ActionInfo describes an action kind in the actions.list response.
type ActionInfo struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Required    []string `json:"required"`
	Example     string   `json:"example"`
}
