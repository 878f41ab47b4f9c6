package dispatch

import (
	"encoding/json"

	"github.com/cgast/nexus/pkg/action"
)

// Result is the envelope returned for every dispatched reply. A
// successful action carries Result; a failed one has Type
// action.KindError and carries Error. Speak is always set.
type Result struct {
	Type   action.Kind
	Result any
	Error  string
	Speak  string
	// Success is only reported by command actions and mirrors the exit
	// status.
	Success *bool
}

// Failed reports whether r is an error envelope.
func (r Result) Failed() bool { return r.Type == action.KindError }

// Failure builds an error envelope.
func Failure(msg, speak string) Result {
	return Result{Type: action.KindError, Error: msg, Speak: speak}
}

type successJSON struct {
	Type    action.Kind `json:"type"`
	Result  any         `json:"result"`
	Success *bool       `json:"success,omitempty"`
	Speak   string      `json:"speak"`
}

type failureJSON struct {
	Type  action.Kind `json:"type"`
	Error string      `json:"error"`
	Speak string      `json:"speak"`
}

// MarshalJSON emits exactly one of "result" and "error". A chat reply
// with empty text still has "result": "".
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(failureJSON{Type: r.Type, Error: r.Error, Speak: r.Speak})
	}
	return json.Marshal(successJSON{Type: r.Type, Result: r.Result, Success: r.Success, Speak: r.Speak})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type    action.Kind `json:"type"`
		Result  any         `json:"result"`
		Error   string      `json:"error"`
		Speak   string      `json:"speak"`
		Success *bool       `json:"success"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Type = aux.Type
	r.Result = aux.Result
	r.Error = aux.Error
	r.Speak = aux.Speak
	r.Success = aux.Success
	return nil
}
