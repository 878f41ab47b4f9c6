package protocol

import (
	"encoding/json"
	"testing"
)

func TestResponseSuccess(t *testing.T) {
	resp := NewResponse(1, map[string]any{"data": "hello"})

	if resp.JSONRPC != "2.0" {
		t.Error("JSONRPC should be 2.0")
	}
	if resp.Error != nil {
		t.Error("Error should be nil for success response")
	}
	if resp.ID != 1 {
		t.Errorf("ID = %v, want 1", resp.ID)
	}
}

func TestResponseError(t *testing.T) {
	resp := NewErrorResponse(2, CodeMethodNotFound, "method not found", nil)

	if resp.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
	if resp.Error.Error() != "method not found" {
		t.Errorf("Message = %q", resp.Error.Message)
	}
}

func TestErrorResponseOmitsResult(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(3, CodeInternalError, "bad", nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := raw["result"]; ok {
		t.Errorf("error response must not carry result: %s", data)
	}
	if raw["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v", raw["jsonrpc"])
	}
}

func TestNotificationHasNoID(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"actions.list"}`), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.ID != nil {
		t.Errorf("ID = %v, want nil", req.ID)
	}
	if req.Method != MethodActionsList {
		t.Errorf("Method = %q", req.Method)
	}
}
