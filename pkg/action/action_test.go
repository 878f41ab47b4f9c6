package action

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	act, err := Parse(`{"type":"command","command":"ls -la","speak":"Listing"}`)
	require.NoError(t, err)

	assert.Equal(t, KindCommand, act.Type)
	assert.Equal(t, "Listing", act.Speak)
	assert.Equal(t, "ls -la", act.String("command"))
	_, hasType := act.Fields["type"]
	assert.False(t, hasType, "type should not be kept in Fields")
}

func TestParseCodeFence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"tagged", "```json\n{\"type\": \"chat\", \"speak\": \"hi\"}\n```"},
		{"untagged", "```\n{\"type\": \"chat\", \"speak\": \"hi\"}\n```\n"},
		{"one line tagged", "```json{\"type\":\"chat\",\"speak\":\"hi\"}```"},
		{"one line spaced", "```json {\"type\":\"chat\",\"speak\":\"hi\"} ```"},
		{"one line untagged", "```{\"type\":\"chat\",\"speak\":\"hi\"}```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, KindChat, act.Type)
			assert.Equal(t, "hi", act.Speak)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", "not json", ErrMalformedResponse},
		{"empty", "", ErrMalformedResponse},
		{"array", `[1, 2]`, ErrMalformedResponse},
		{"null", `null`, ErrMalformedResponse},
		{"missing type", `{"speak":"hi"}`, ErrInvalidStructure},
		{"missing speak", `{"type":"chat"}`, ErrInvalidStructure},
		{"numeric type", `{"type":3,"speak":"hi"}`, ErrInvalidStructure},
		{"object speak", `{"type":"chat","speak":{}}`, ErrInvalidStructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   error
		wantField string
	}{
		{"chat", `{"type":"chat","speak":"x"}`, nil, ""},
		{"command ok", `{"type":"command","command":"echo","speak":"x"}`, nil, ""},
		{"command missing", `{"type":"command","speak":"x"}`, ErrMissingField, "command"},
		{"code missing code", `{"type":"code","language":"go","speak":"x"}`, ErrMissingField, "code"},
		{"create missing content", `{"type":"create","filename":"a","speak":"x"}`, ErrMissingField, "content"},
		{"read missing filename", `{"type":"read","speak":"x"}`, ErrMissingField, "filename"},
		{"command null", `{"type":"command","command":null,"speak":"x"}`, ErrMissingField, "command"},
		{"create null filename", `{"type":"create","filename":null,"content":"c","speak":"x"}`, ErrMissingField, "filename"},
		{"code null code", `{"type":"code","language":"go","code":null,"speak":"x"}`, ErrMissingField, "code"},
		{"system_info without info", `{"type":"system_info","speak":"x"}`, nil, ""},
		{"unknown", `{"type":"dance","speak":"x"}`, ErrUnknownActionType, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := Parse(tt.raw)
			require.NoError(t, err)

			err = act.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantField != "" {
				var fe *FieldError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, tt.wantField, fe.Field)
				assert.Equal(t, act.Type, fe.Kind)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	act, err := Parse(`{"type":"create","filename":"n.txt","content":42,"speak":"ok"}`)
	require.NoError(t, err)

	var out struct {
		Filename string `mapstructure:"filename"`
		Content  string `mapstructure:"content"`
	}
	require.NoError(t, act.Decode(&out))
	assert.Equal(t, "n.txt", out.Filename)
	assert.Equal(t, "42", out.Content)
}

func TestSchemasCoverKinds(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, 6)

	for _, k := range kinds {
		s, ok := Lookup(k)
		require.True(t, ok, "no schema for %s", k)
		assert.Contains(t, s.Required, "speak")
		assert.NotEmpty(t, s.Description)
	}

	_, ok := Lookup(KindError)
	assert.False(t, ok, "error is not an action kind")
}

func TestSchemaExampleIsValidAction(t *testing.T) {
	for _, s := range Schemas() {
		t.Run(string(s.Kind), func(t *testing.T) {
			ex := s.Example()

			var obj map[string]any
			require.NoError(t, json.Unmarshal([]byte(ex), &obj), "example %s", ex)

			act, err := Parse(ex)
			require.NoError(t, err)
			assert.Equal(t, s.Kind, act.Type)
			assert.NoError(t, act.Validate())
		})
	}
}
