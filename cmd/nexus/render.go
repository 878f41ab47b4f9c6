package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cgast/nexus/internal/terminal"
	"github.com/cgast/nexus/pkg/action"
	"github.com/cgast/nexus/pkg/dispatch"
	"github.com/cgast/nexus/pkg/store"
	"github.com/cgast/nexus/pkg/sysinfo"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// renderer prints outcomes. Colour and Markdown rendering are only used
// when w is a terminal.
type renderer struct {
	out *termenv.Output
	md  *glamour.TermRenderer
}

func newRenderer(w io.Writer) *renderer {
	r := &renderer{out: termenv.NewOutput(w)}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		width := 100
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 40 {
			width = cols - 4
		}
		md, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err == nil {
			r.md = md
		}
	}
	return r
}

func (r *renderer) paint(s string, c termenv.Color) string {
	return r.out.String(s).Foreground(c).String()
}

func (r *renderer) faint(s string) string {
	return r.out.String(s).Faint().String()
}

func (r *renderer) bold(s string) string {
	return r.out.String(s).Bold().String()
}

func (r *renderer) println(a ...any) {
	fmt.Fprintln(r.out, a...)
}

func (r *renderer) printf(format string, a ...any) {
	fmt.Fprintf(r.out, format, a...)
}

// markdown renders text for the terminal, or returns it unchanged.
func (r *renderer) markdown(text string) string {
	if r.md == nil {
		return text
	}
	s, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(s, "\n")
}

func (r *renderer) block(lang, body string) string {
	body = strings.TrimRight(body, "\n")
	if r.md == nil {
		return body
	}
	return r.markdown("```" + lang + "\n" + body + "\n```")
}

func (r *renderer) failure(msg string) {
	r.println(r.paint("✗ ", termenv.ANSIRed) + msg)
}

// outcome prints the result of one request.
func (r *renderer) outcome(o terminal.Outcome) {
	if !o.Success {
		r.failure(o.Output)
		if o.Error != "" && o.Error != o.Output {
			r.println(r.faint(o.Error))
		}
		return
	}
	if o.Result == nil {
		r.println(o.Output)
		return
	}
	r.result(*o.Result)
}

// result prints a dispatch envelope the way its kind reads best.
func (r *renderer) result(res dispatch.Result) {
	if res.Failed() {
		r.failure(res.Speak)
		if res.Error != "" {
			r.println(r.faint(res.Error))
		}
		return
	}

	switch res.Type {
	case action.KindChat:
		r.println(r.markdown(res.Speak))
	case action.KindCommand:
		r.speak(res.Speak)
		if text := fmt.Sprint(res.Result); strings.TrimSpace(text) != "" {
			r.println(r.block("", text))
		}
		if res.Success != nil && !*res.Success {
			r.println(r.paint("command exited with an error", termenv.ANSIYellow))
		}
	case action.KindCode:
		r.speak(res.Speak)
		var code dispatch.CodeResult
		if remarshal(res.Result, &code) == nil && code.Filename != "" {
			r.println(r.faint("wrote " + code.Filename))
			r.println(r.block(strings.TrimPrefix(filepath.Ext(code.Filename), "."), code.Code))
		}
	case action.KindRead:
		r.speak(res.Speak)
		r.println(r.block("", fmt.Sprint(res.Result)))
	case action.KindSystemInfo:
		r.speak(res.Speak)
		var snap sysinfo.Snapshot
		if remarshal(res.Result, &snap) == nil && !snap.TakenAt.IsZero() {
			r.println(snap.Summary())
			return
		}
		r.json(res.Result)
	default:
		r.speak(res.Speak)
		if s, ok := res.Result.(string); ok {
			r.println(s)
		}
	}
}

func (r *renderer) speak(s string) {
	if s != "" {
		r.println(r.bold(s))
	}
}

func (r *renderer) json(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.println(fmt.Sprint(v))
		return
	}
	r.println(string(data))
}

// exchange prints one history entry.
func (r *renderer) exchange(ex store.Exchange) {
	mark := r.paint("✓", termenv.ANSIGreen)
	if !ex.Success {
		mark = r.paint("✗", termenv.ANSIRed)
	}
	r.printf("%s %s %s %s\n", r.faint(fmt.Sprintf("#%d", ex.Seq)), r.faint(ex.Time.Format("2006-01-02 15:04:05")), mark, ex.Input)
	if ex.Output != "" {
		r.println("  " + ex.Output)
	}
}

// analysis prints the graded resource usage and its recommendations.
func (r *renderer) analysis(a sysinfo.Analysis) {
	r.printf("CPU     %5.1f%%  %s\n", a.CPU.AverageUsage, r.status(a.CPU.Status))
	r.printf("Memory  %5.1f%%  %s\n", a.Memory.UsagePercent, r.status(a.Memory.Status))
	if a.Disk.Mountpoint != "" {
		r.printf("Disk    %5.1f%%  %s (%s)\n", a.Disk.UsagePercent, r.status(a.Disk.Status), a.Disk.Mountpoint)
	}
	r.recommendations(a.Recommendations)
}

func (r *renderer) recommendations(recs []string) {
	for _, rec := range recs {
		r.println(r.paint("! ", termenv.ANSIYellow) + rec)
	}
}

func (r *renderer) status(s string) string {
	if s == sysinfo.StatusHigh {
		return r.paint(s, termenv.ANSIRed)
	}
	return r.paint(s, termenv.ANSIGreen)
}

// remarshal converts a result decoded as generic JSON, or an in-process
// value, into out.
func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
