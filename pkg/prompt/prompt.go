// Package prompt builds the text sent to the model for a user request.
//
// The list of actions in the prompt is generated from action.Schemas, so
// every kind the dispatcher handles is described to the model and nothing
// else is.
package prompt

import (
	"fmt"
	"strings"

	"github.com/cgast/nexus/pkg/action"
)

const defaultPersona = "NexusOS"

// Builder renders prompts. The zero value is not usable; use New.
type Builder struct {
	persona string
	schemas []action.Schema
}

// Option configures a Builder.
type Option func(*Builder)

// WithPersona sets the name the model is told it is.
func WithPersona(name string) Option {
	return func(b *Builder) {
		if name != "" {
			b.persona = name
		}
	}
}

// New creates a Builder describing every recognized action kind.
func New(opts ...Option) *Builder {
	b := &Builder{
		persona: defaultPersona,
		schemas: action.Schemas(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the prompt for userInput. The input is appended verbatim.
func (b *Builder) Build(userInput string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, an AI-powered operating system. Analyze the user's input and return a structured JSON response.\n", b.persona)
	sb.WriteString("Your response MUST be a valid JSON object with these fields:\n")
	sb.WriteString("1. \"type\": The type of action to perform\n")
	sb.WriteString("2. \"speak\": What to say to the user\n")
	sb.WriteString("3. Additional fields based on the action type\n\n")
	sb.WriteString("Available action types:\n")

	for i, s := range b.schemas {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, s.Kind, s.Description)
		fmt.Fprintf(&sb, "   %s\n\n", s.Example())
	}

	sb.WriteString("Always return exactly ONE valid JSON object.\n")
	sb.WriteString("User input: ")
	sb.WriteString(userInput)
	return sb.String()
}

var std = New()

// Build renders a prompt with the default persona.
func Build(userInput string) string {
	return std.Build(userInput)
}
