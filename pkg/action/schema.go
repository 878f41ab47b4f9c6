package action

// Kind identifies one of the action types a model reply may request.
type Kind string

const (
	KindChat       Kind = "chat"
	KindCommand    Kind = "command"
	KindCode       Kind = "code"
	KindSystemInfo Kind = "system_info"
	KindCreate     Kind = "create"
	KindRead       Kind = "read"

	// KindError only ever appears on result envelopes.
	KindError Kind = "error"
)

// Field describes a single field of an action object.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Example     string `json:"example"`
}

// Schema describes the shape of one action kind: its fields, which of
// them are required, and how the prompt introduces it.
type Schema struct {
	Kind        Kind     `json:"kind"`
	Description string   `json:"description"`
	Fields      []Field  `json:"fields"`
	Required    []string `json:"required"`
}

var speakField = Field{Name: "speak", Type: "string", Description: "What to say to the user", Example: "message"}

// schemas is ordered the way the prompt enumerates actions.
var schemas = []Schema{
	{
		Kind:        KindChat,
		Description: "General conversation",
		Fields: []Field{
			{Name: "speak", Type: "string", Description: "Reply to the user", Example: "response message"},
		},
		Required: []string{"speak"},
	},
	{
		Kind:        KindCommand,
		Description: "Execute system command",
		Fields: []Field{
			{Name: "command", Type: "string", Description: "Shell command line", Example: "command to run"},
			speakField,
		},
		Required: []string{"command", "speak"},
	},
	{
		Kind:        KindCode,
		Description: "Generate code",
		Fields: []Field{
			{Name: "language", Type: "string", Description: "Language, also used as file extension", Example: "python"},
			{Name: "code", Type: "string", Description: "Source code", Example: "code here"},
			speakField,
		},
		Required: []string{"language", "code", "speak"},
	},
	{
		Kind:        KindSystemInfo,
		Description: "Get system information",
		Fields: []Field{
			{Name: "info", Type: "string", Description: "cpu, memory, disk or all", Example: "requested info"},
			speakField,
		},
		Required: []string{"speak"},
	},
	{
		Kind:        KindCreate,
		Description: "Create a file",
		Fields: []Field{
			{Name: "filename", Type: "string", Description: "Path of the file to write", Example: "file.txt"},
			{Name: "content", Type: "string", Description: "File content", Example: "content"},
			speakField,
		},
		Required: []string{"filename", "content", "speak"},
	},
	{
		Kind:        KindRead,
		Description: "Read a file",
		Fields: []Field{
			{Name: "filename", Type: "string", Description: "Path of the file to read", Example: "file.txt"},
			speakField,
		},
		Required: []string{"filename", "speak"},
	},
}

// Schemas returns the schema of every recognized kind in prompt order.
func Schemas() []Schema {
	out := make([]Schema, len(schemas))
	copy(out, schemas)
	return out
}

// Kinds returns every recognized kind in prompt order.
func Kinds() []Kind {
	kinds := make([]Kind, len(schemas))
	for i, s := range schemas {
		kinds[i] = s.Kind
	}
	return kinds
}

// Lookup returns the schema for kind.
func Lookup(kind Kind) (Schema, bool) {
	for _, s := range schemas {
		if s.Kind == kind {
			return s, true
		}
	}
	return Schema{}, false
}

// Example renders the literal example object for the schema, with "type"
// first and "speak" last, the way the prompt shows it.
func (s Schema) Example() string {
	b := []byte(`{"type": ` + quote(string(s.Kind)))
	var speak *Field
	for i := range s.Fields {
		f := s.Fields[i]
		if f.Name == "speak" {
			speak = &s.Fields[i]
			continue
		}
		b = append(b, `, `+quote(f.Name)+`: `+quote(f.Example)...)
	}
	if speak != nil {
		b = append(b, `, "speak": `+quote(speak.Example)...)
	}
	b = append(b, '}')
	return string(b)
}
