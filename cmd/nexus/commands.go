package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cgast/nexus/pkg/dispatch"
	"github.com/cgast/nexus/pkg/prompt"
	"github.com/cgast/nexus/pkg/sysinfo"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// cliApprover asks on the terminal when stdin is one; otherwise nil lets
// build pick the inspector or refuse.
func cliApprover(cmd *cobra.Command) dispatch.Approver {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	p := &repl{r: newRenderer(cmd.OutOrStdout()), lines: readLines(f)}
	return dispatch.ApproverFunc(p.approve)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAskCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <request...>",
		Short: "Run one request end to end",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if err := a.build(cliApprover(cmd)); err != nil {
				return err
			}
			out := a.session.Process(cmd.Context(), strings.Join(args, " "))
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			newRenderer(cmd.OutOrStdout()).outcome(out)
			if !out.Success {
				return errors.New("request failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newDispatchCmd(a *app) *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "dispatch [reply|-]",
		Short: "Execute a model reply without querying the model",
		Long: `Execute a model reply without querying the model. The reply is the
JSON action text; "-" or no argument reads it from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			var raw string
			if len(args) == 1 && args[0] != "-" {
				raw = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read reply: %w", err)
				}
				raw = string(data)
			}
			if err := a.build(nil); err != nil {
				return err
			}
			res := a.dispatcher.HandleResponse(cmd.Context(), raw)
			if pretty {
				newRenderer(cmd.OutOrStdout()).result(res)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "render the result instead of printing the envelope")
	return cmd
}

func newPromptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <request...>",
		Short: "Print the prompt sent to the model for a request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			fmt.Fprintln(cmd.OutOrStdout(), prompt.Build(strings.Join(args, " ")))
			return nil
		},
	}
}

func newSysinfoCmd(a *app) *cobra.Command {
	var (
		analyze   bool
		processes int
		info      string
	)
	cmd := &cobra.Command{
		Use:   "sysinfo",
		Short: "Show CPU, memory and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			ctx := cmd.Context()
			m := a.monitor()
			snap, err := m.Sampler.Sample(ctx)
			if err != nil {
				return fmt.Errorf("sample: %w", err)
			}

			out := cmd.OutOrStdout()
			if analyze {
				newRenderer(out).analysis(sysinfo.Analyze(snap, m.Thresholds))
			} else if err := printJSON(out, snap.Section(info)); err != nil {
				return err
			}

			if processes <= 0 {
				return nil
			}
			ps, err := sysinfo.Processes(ctx, processes)
			if err != nil {
				return fmt.Errorf("list processes: %w", err)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nPID\tNAME\tCPU%\tMEM%\tSTATUS")
			for _, p := range ps {
				fmt.Fprintf(tw, "%d\t%s\t%.1f\t%.1f\t%s\n", p.PID, p.Name, p.CPUPercent, p.MemoryPercent, p.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&analyze, "analyze", false, "grade usage against the configured thresholds")
	cmd.Flags().IntVar(&processes, "processes", 0, "also list the top N processes by load")
	cmd.Flags().StringVar(&info, "info", "", "only show cpu, memory or disk")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent exchanges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if !a.cfg.History.Persist {
				return errors.New("history is disabled in the config")
			}
			if err := a.openHistory(); err != nil {
				return err
			}
			exs, err := a.history.Recent(n)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), exs)
			}
			r := newRenderer(cmd.OutOrStdout())
			if len(exs) == 0 {
				r.println("No history yet.")
			}
			for _, ex := range exs {
				r.exchange(ex)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", historyDefault, "how many exchanges to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print exchanges as JSON")
	return cmd
}

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available at the endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			client := a.newModel(a.cfg.Model)
			models, err := client.Models(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
			for _, m := range models {
				name := m.Name
				if name == client.Model() {
					name += " *"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, humanSize(m.Size), m.ModifiedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inspector HTTP server in the foreground",
		Long: `Run the inspector HTTP server in the foreground, with the resource
monitor publishing to its event stream. Remote approval and, when
inspector.allow_dispatch is set, POST /api/dispatch are available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a.cfg.Inspector.Enabled = true
			if port > 0 {
				a.cfg.Inspector.Port = port
			}
			if err := a.build(nil); err != nil {
				return err
			}
			a.watchConfig(ctx)
			go a.monitor().Run(ctx, nil)

			fmt.Fprintf(cmd.OutOrStdout(), "Inspector running at http://%s\n", a.inspector.Addr(a.cfg.Inspector.Port))
			return a.inspector.Start(ctx, a.cfg.Inspector.Port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}
