package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrInvalidStructure  = errors.New("invalid response structure")
	ErrUnknownActionType = errors.New("unknown action type")
	ErrMissingField      = errors.New("missing required field")
	ErrHandlerExecution  = errors.New("handler execution failed")
)

// FieldError reports a schema-required field absent from an action.
type FieldError struct {
	Kind  Kind
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("missing required field %q for %s action", e.Field, e.Kind)
}

func (e *FieldError) Unwrap() error { return ErrMissingField }

// Action is a single parsed model reply. Type and Speak are always set;
// every other key of the reply object is kept in Fields.
type Action struct {
	Type   Kind
	Speak  string
	Fields map[string]any
}

// Parse decodes raw model output into an Action. Only the presence and
// string-ness of "type" and "speak" are checked here; per-kind fields are
// checked by Validate.
func Parse(raw string) (Action, error) {
	text := stripFence(strings.TrimSpace(raw))

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj == nil {
		return Action{}, fmt.Errorf("%w: not a JSON object", ErrMalformedResponse)
	}

	typ, ok := obj["type"]
	if !ok {
		return Action{}, fmt.Errorf("%w: missing \"type\"", ErrInvalidStructure)
	}
	speak, ok := obj["speak"]
	if !ok {
		return Action{}, fmt.Errorf("%w: missing \"speak\"", ErrInvalidStructure)
	}
	typStr, ok := typ.(string)
	if !ok {
		return Action{}, fmt.Errorf("%w: \"type\" must be a string", ErrInvalidStructure)
	}
	speakStr, ok := speak.(string)
	if !ok {
		return Action{}, fmt.Errorf("%w: \"speak\" must be a string", ErrInvalidStructure)
	}

	delete(obj, "type")
	return Action{Type: Kind(typStr), Speak: speakStr, Fields: obj}, nil
}

// Validate checks that the action's kind is recognized and that every
// field its schema requires is present and not null.
func (a Action) Validate() error {
	s, ok := Lookup(a.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActionType, a.Type)
	}
	for _, name := range s.Required {
		if name == "speak" {
			continue
		}
		if v, ok := a.Fields[name]; !ok || v == nil {
			return &FieldError{Kind: a.Type, Field: name}
		}
	}
	return nil
}

// String returns the named field as text. Missing fields yield "".
func (a Action) String(name string) string {
	switch v := a.Fields[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Decode copies Fields into out, matching `mapstructure` tags. Scalar
// values are converted weakly so that e.g. a numeric "content" still
// decodes into a string field.
func (a Action) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("decode %s action: %w", a.Type, err)
	}
	if err := dec.Decode(a.Fields); err != nil {
		return fmt.Errorf("decode %s action: %w", a.Type, err)
	}
	return nil
}

// stripFence removes a surrounding Markdown code fence such as ```json.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(s, "```")), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		// One-line fence: drop a language tag glued to the body.
		s = strings.TrimLeftFunc(s, func(r rune) bool {
			return r != '{' && r != '[' && !unicode.IsSpace(r)
		})
	}
	return strings.TrimSpace(s)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
