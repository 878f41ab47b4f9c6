package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/cgast/nexus/pkg/action"
	"go.uber.org/zap"
)

// HandlerFunc executes one validated action. The dispatcher fills in
// Type and Speak of the returned Result.
type HandlerFunc func(ctx context.Context, a action.Action) (Result, error)

// Handlers is the dispatch table: one handler per action kind.
type Handlers struct {
	Chat       HandlerFunc
	Command    HandlerFunc
	Code       HandlerFunc
	SystemInfo HandlerFunc
	Create     HandlerFunc
	Read       HandlerFunc
}

// lookup maps a kind to its handler. A kind added to the schema must get
// a case here, or New rejects the table.
func (h Handlers) lookup(kind action.Kind) HandlerFunc {
	switch kind {
	case action.KindChat:
		return h.Chat
	case action.KindCommand:
		return h.Command
	case action.KindCode:
		return h.Code
	case action.KindSystemInfo:
		return h.SystemInfo
	case action.KindCreate:
		return h.Create
	case action.KindRead:
		return h.Read
	}
	return nil
}

func (h Handlers) check() error {
	for _, kind := range action.Kinds() {
		if h.lookup(kind) == nil {
			return fmt.Errorf("dispatch: no handler for %s actions", kind)
		}
	}
	return nil
}

// speakPrefix introduces a handler failure to the user.
func speakPrefix(kind action.Kind) string {
	switch kind {
	case action.KindCommand:
		return "Error executing command: "
	case action.KindCreate:
		return "Error creating file: "
	case action.KindCode:
		return "Error generating code: "
	case action.KindSystemInfo:
		return "Error getting system info: "
	case action.KindRead:
		return "Error reading file: "
	}
	return "Sorry, an error occurred: "
}

// CodeFilename is the file a code action for language is written to.
func CodeFilename(language string) string {
	return fmt.Sprintf("generated_%s_code.%s", language, language)
}

func (d *Dispatcher) builtin() Handlers {
	return Handlers{
		Chat:       d.chat,
		Command:    d.command,
		Code:       d.code,
		SystemInfo: d.systemInfo,
		Create:     d.create,
		Read:       d.read,
	}
}

func (d *Dispatcher) chat(_ context.Context, a action.Action) (Result, error) {
	return Result{Result: a.Speak}, nil
}

func (d *Dispatcher) command(ctx context.Context, a action.Action) (Result, error) {
	var in struct {
		Command string `mapstructure:"command"`
	}
	if err := a.Decode(&in); err != nil {
		return Result{}, err
	}
	if err := d.sandbox.CheckCommand(in.Command); err != nil {
		return Result{}, err
	}

	out, err := d.runner.Run(ctx, in.Command)
	if err != nil {
		return Result{}, err
	}
	ok := out.Success()
	d.log.Debug("command finished",
		zap.String("command", in.Command),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration))

	text := out.Stdout
	if !ok {
		text = out.Stderr
	}
	return Result{Result: text, Success: &ok}, nil
}

func (d *Dispatcher) create(_ context.Context, a action.Action) (Result, error) {
	var in struct {
		Filename string `mapstructure:"filename"`
		Content  string `mapstructure:"content"`
	}
	if err := a.Decode(&in); err != nil {
		return Result{}, err
	}
	if _, err := d.files.Write(in.Filename, in.Content); err != nil {
		return Result{}, err
	}
	return Result{Result: fmt.Sprintf("File %s created successfully", in.Filename)}, nil
}

// CodeResult is the payload of a code action.
type CodeResult struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
}

func (d *Dispatcher) code(_ context.Context, a action.Action) (Result, error) {
	var in struct {
		Language string `mapstructure:"language"`
		Code     string `mapstructure:"code"`
	}
	if err := a.Decode(&in); err != nil {
		return Result{}, err
	}
	if in.Language == "" || strings.ContainsAny(in.Language, `/\`) || strings.Contains(in.Language, "..") {
		return Result{}, fmt.Errorf("invalid language %q", in.Language)
	}

	name := CodeFilename(in.Language)
	if _, err := d.files.Write(name, in.Code); err != nil {
		return Result{}, err
	}
	return Result{Result: CodeResult{Filename: name, Code: in.Code}}, nil
}

func (d *Dispatcher) systemInfo(ctx context.Context, a action.Action) (Result, error) {
	snap, err := d.sampler.Sample(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Result: snap.Section(a.String("info"))}, nil
}

func (d *Dispatcher) read(_ context.Context, a action.Action) (Result, error) {
	var in struct {
		Filename string `mapstructure:"filename"`
	}
	if err := a.Decode(&in); err != nil {
		return Result{}, err
	}
	res, err := d.files.Read(in.Filename)
	if err != nil {
		return Result{}, err
	}
	return Result{Result: res.Content}, nil
}
