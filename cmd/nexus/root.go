package main

import (
	"github.com/cgast/nexus/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "nexus",
		Short: "nexus turns requests into terminal actions",
		Long: `nexus sends each request to a local model, which answers with exactly one
JSON action: chat, command, code, system_info, create or read. The action is
validated and executed on this machine and the outcome is shown.

Without a subcommand nexus starts an interactive session, or the JSON-RPC
agent loop on stdin/stdout when the mode is "agent".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if a.cfg.Mode == "agent" {
				return runAgent(cmd, a)
			}
			return runREPL(cmd, a)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath, "runtime config file")
	flags.StringVar(&a.mode, "mode", "", `"interactive" or "agent" (default from config or NEXUS_MODE)`)
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
	flags.StringVar(&a.logFile, "log-file", "", `log destination, a path or "stderr" (default from config)`)
	flags.IntVar(&a.inspectorPort, "inspector-port", 0, "serve the inspector on this port")

	root.AddCommand(
		newAskCmd(a),
		newDispatchCmd(a),
		newPromptCmd(a),
		newSysinfoCmd(a),
		newHistoryCmd(a),
		newModelsCmd(a),
		newServeCmd(a),
	)
	return root
}
