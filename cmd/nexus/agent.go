package main

import (
	"context"
	"encoding/json"

	"github.com/cgast/nexus/pkg/action"
	"github.com/cgast/nexus/pkg/events"
	"github.com/cgast/nexus/pkg/prompt"
	"github.com/cgast/nexus/pkg/protocol"
	"github.com/cgast/nexus/pkg/sysinfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runAgent serves JSON-RPC requests read line by line from stdin.
func runAgent(cmd *cobra.Command, a *app) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := a.build(nil); err != nil {
		return err
	}
	a.startInspector(ctx, cmd.ErrOrStderr())
	a.watchConfig(ctx)

	h := protocol.NewHandler()
	registerMethods(h, a)

	a.bus.Publish(events.NewEvent(events.EventAgentMessage, map[string]any{
		"message": "agent mode started",
		"methods": h.Methods(),
	}))
	a.log.Info("agent mode started", zap.Strings("methods", h.Methods()))

	return h.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}

// registerMethods exposes the terminal core as JSON-RPC methods.
func registerMethods(h *protocol.Handler, a *app) {
	h.Register(protocol.MethodPromptBuild, func(_ context.Context, params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.PromptBuildParams](params)
		if perr != nil {
			return nil, perr
		}
		return protocol.PromptBuildResult{Prompt: prompt.Build(p.Input)}, nil
	})

	h.Register(protocol.MethodResponseHandle, func(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.ResponseHandleParams](params)
		if perr != nil {
			return nil, perr
		}
		return a.dispatcher.HandleResponse(ctx, p.Raw), nil
	})

	h.Register(protocol.MethodRequestProcess, func(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.RequestProcessParams](params)
		if perr != nil {
			return nil, perr
		}
		out := a.session.Process(ctx, p.Input)
		if out.Result == nil {
			return nil, &protocol.Error{Code: protocol.CodeModelUnavailable, Message: out.Error, Data: out}
		}
		return out, nil
	})

	h.Register(protocol.MethodActionsList, func(context.Context, json.RawMessage) (any, *protocol.Error) {
		schemas := action.Schemas()
		infos := make([]protocol.ActionInfo, len(schemas))
		for i, s := range schemas {
			infos[i] = protocol.ActionInfo{
				Kind:        string(s.Kind),
				Description: s.Description,
				Required:    s.Required,
				Example:     s.Example(),
			}
		}
		return infos, nil
	})

	h.Register(protocol.MethodHistory, func(_ context.Context, params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.HistoryParams](params)
		if perr != nil {
			return nil, perr
		}
		if a.history == nil {
			return nil, &protocol.Error{Code: protocol.CodeHistoryFailed, Message: "history is disabled"}
		}
		exs, err := a.history.Recent(p.Limit)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.CodeHistoryFailed, Message: err.Error()}
		}
		return exs, nil
	})

	h.Register(protocol.MethodSysinfoSnapshot, func(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
		p, perr := protocol.ParseParams[protocol.SysinfoParams](params)
		if perr != nil {
			return nil, perr
		}
		m := a.monitor()
		snap, err := m.Sampler.Sample(ctx)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.CodeSampleFailed, Message: err.Error()}
		}
		if p.Analyze {
			return sysinfo.Analyze(snap, m.Thresholds), nil
		}
		return snap.Section(p.Info), nil
	})
}
