package main

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/cgast/nexus/internal/config"
	"github.com/cgast/nexus/pkg/action"
	"github.com/cgast/nexus/pkg/dispatch"
	"github.com/cgast/nexus/pkg/store"
	"github.com/cgast/nexus/pkg/sysinfo"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

const (
	replPrompt     = "nexus> "
	historyDefault = 10
)

// repl is the interactive front end. Input lines arrive on a channel so
// that an approval question and ctx cancellation can both interrupt a
// pending read.
type repl struct {
	app   *app
	r     *renderer
	lines <-chan string

	stopMonitor context.CancelFunc
}

func runREPL(cmd *cobra.Command, a *app) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	p := &repl{
		app:   a,
		r:     newRenderer(cmd.OutOrStdout()),
		lines: readLines(cmd.InOrStdin()),
	}
	if err := a.build(dispatch.ApproverFunc(p.approve)); err != nil {
		return err
	}
	a.startInspector(ctx, cmd.OutOrStdout())
	a.watchConfig(ctx)
	defer p.monitorOff()

	p.r.println("nexus v0.1.0 - AI terminal")
	p.r.printf("Model %s at %s. Type 'help' for commands, 'exit' to quit.\n\n",
		a.currentModel().Model(), a.currentModel().Endpoint())

	for {
		p.r.printf("%s", p.r.paint(replPrompt, termenv.ANSICyan))
		var line string
		select {
		case <-ctx.Done():
			p.r.println()
			return nil
		case l, ok := <-p.lines:
			if !ok {
				p.r.println()
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if p.handle(ctx, line) {
			return nil
		}
	}
}

// readLines feeds lines from in to the returned channel until EOF.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// handle runs one input line and reports whether the session ends.
func (p *repl) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "exit", "quit":
		p.r.println("Goodbye.")
		return true
	case "help":
		p.help()
	case "actions":
		p.actions()
	case "history":
		p.history(fields[1:])
	case "context":
		p.sessionValues(fields[1:])
	case "stats":
		p.stats(ctx)
	case "monitor":
		p.monitor(ctx, fields[1:])
	case "model":
		p.model(fields[1:])
	default:
		p.r.outcome(p.app.session.Process(ctx, line))
	}
	return false
}

func (p *repl) help() {
	p.r.println("Anything that is not a built-in is sent to the model.")
	p.r.println()
	p.r.println("Built-ins:")
	p.r.println("  help                 Show this help message")
	p.r.println("  actions              List the actions the model may request")
	p.r.println("  history [n]          Show the last n exchanges (default 10)")
	p.r.println("  context list         List session values")
	p.r.println("  context get K        Show session value K")
	p.r.println("  context set K V      Set session value K")
	p.r.println("  context unset K      Remove session value K")
	p.r.println("  stats                Sample CPU, memory and disk once")
	p.r.println("  monitor [on|off]     Watch resource usage in the background")
	p.r.println("  model [name]         Show or switch the model")
	p.r.println("  exit                 Exit nexus")
}

func (p *repl) actions() {
	for _, s := range action.Schemas() {
		p.r.printf("  %-12s %s (requires %s)\n", s.Kind, s.Description, strings.Join(s.Required, ", "))
	}
}

func (p *repl) history(args []string) {
	if p.app.history == nil {
		p.r.println("History is disabled.")
		return
	}
	n := historyDefault
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			p.r.println("Usage: history [n]")
			return
		}
		n = v
	}
	exs, err := p.app.history.Recent(n)
	if err != nil {
		p.r.failure(err.Error())
		return
	}
	if len(exs) == 0 {
		p.r.println("No history yet.")
		return
	}
	for _, ex := range exs {
		p.r.exchange(ex)
	}
}

func (p *repl) sessionValues(args []string) {
	st := p.app.history
	if st == nil {
		p.r.println("Session storage is disabled.")
		return
	}
	if len(args) == 0 {
		p.r.println("Usage: context [list|get|set|unset] ...")
		return
	}
	switch {
	case args[0] == "list":
		items, err := st.List(store.ScopeSession)
		if err != nil {
			p.r.failure(err.Error())
			return
		}
		if len(items) == 0 {
			p.r.println("(empty)")
			return
		}
		for k, v := range items {
			p.r.printf("  %s = %v\n", k, v)
		}
	case args[0] == "get" && len(args) == 2:
		v, err := st.Get(store.ScopeSession, args[1])
		if err != nil {
			p.r.failure(err.Error())
			return
		}
		p.r.printf("%v\n", v)
	case args[0] == "set" && len(args) >= 3:
		if err := st.Set(store.ScopeSession, args[1], strings.Join(args[2:], " ")); err != nil {
			p.r.failure(err.Error())
			return
		}
		p.r.println("OK")
	case args[0] == "unset" && len(args) == 2:
		if err := st.Delete(store.ScopeSession, args[1]); err != nil {
			p.r.failure(err.Error())
			return
		}
		p.r.println("OK")
	default:
		p.r.println("Usage: context [list|get|set|unset] ...")
	}
}

func (p *repl) stats(ctx context.Context) {
	m := p.app.monitor()
	snap, err := m.Sampler.Sample(ctx)
	if err != nil {
		p.r.failure(err.Error())
		return
	}
	p.r.analysis(sysinfo.Analyze(snap, m.Thresholds))
}

func (p *repl) monitor(ctx context.Context, args []string) {
	on := p.stopMonitor == nil
	if len(args) > 0 {
		on = args[0] == "on"
	}
	if !on {
		if p.monitorOff() {
			p.r.println("Monitor stopped.")
		}
		return
	}
	if p.stopMonitor != nil {
		p.r.println("Monitor already running.")
		return
	}

	m := p.app.monitor()
	mctx, cancel := context.WithCancel(ctx)
	p.stopMonitor = cancel
	go m.Run(mctx, func(_ sysinfo.Snapshot, a sysinfo.Analysis) {
		p.r.recommendations(a.Recommendations)
	})
	p.r.println("Monitor started; recommendations appear as usage crosses thresholds. 'monitor off' stops it.")
}

func (p *repl) monitorOff() bool {
	if p.stopMonitor == nil {
		return false
	}
	p.stopMonitor()
	p.stopMonitor = nil
	return true
}

func (p *repl) model(args []string) {
	current := p.app.currentModel()
	if len(args) == 0 {
		p.r.printf("%s at %s\n", current.Model(), current.Endpoint())
		return
	}
	m := p.app.switchModel(config.ModelConfig{
		Endpoint: current.Endpoint(),
		Name:     args[0],
		Timeout:  p.app.cfg.Model.Timeout,
	})
	if p.app.history != nil {
		_ = p.app.history.Set(store.ScopeSession, "model", m.Model())
	}
	p.r.printf("Now using %s.\n", m.Model())
}

// approve asks on the terminal before an action runs.
func (p *repl) approve(ctx context.Context, act action.Action) (bool, error) {
	p.r.printf("%s %s? [y/N] ", p.r.paint("Allow", termenv.ANSIYellow), dispatch.Describe(act))
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
