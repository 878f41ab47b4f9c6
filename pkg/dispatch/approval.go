package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cgast/nexus/pkg/action"
)

// ErrNotApproved is returned when the approver declines an action.
var ErrNotApproved = errors.New("action not approved")

// ApprovalMode selects which actions need confirmation before they run.
type ApprovalMode string

const (
	// ApprovalNever runs every action unasked. Model-supplied commands
	// and paths then execute with the privileges of the process.
	ApprovalNever ApprovalMode = "never"
	// ApprovalDestructive confirms command, create and code actions.
	ApprovalDestructive ApprovalMode = "destructive"
	// ApprovalAlways confirms every action except chat.
	ApprovalAlways ApprovalMode = "always"
)

// ParseApprovalMode accepts the names above; "" means ApprovalNever.
func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch m := ApprovalMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ApprovalNever, nil
	case ApprovalNever, ApprovalDestructive, ApprovalAlways:
		return m, nil
	default:
		return "", fmt.Errorf("unknown approval mode %q (want never, destructive or always)", s)
	}
}

// Requires reports whether actions of kind need confirmation in mode m.
func (m ApprovalMode) Requires(kind action.Kind) bool {
	switch m {
	case ApprovalAlways:
		return kind != action.KindChat
	case ApprovalDestructive:
		return kind == action.KindCommand || kind == action.KindCreate || kind == action.KindCode
	default:
		return false
	}
}

// Approver confirms an action before it runs.
type Approver interface {
	Approve(ctx context.Context, a action.Action) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, a action.Action) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, a action.Action) (bool, error) {
	return f(ctx, a)
}

// DenyAll declines every action. It serves non-interactive front ends
// when approval is configured.
var DenyAll = ApproverFunc(func(context.Context, action.Action) (bool, error) { return false, nil })

// Describe renders what an action is about to do, for approval prompts.
func Describe(a action.Action) string {
	switch a.Type {
	case action.KindCommand:
		return "run command: " + a.String("command")
	case action.KindCreate:
		return fmt.Sprintf("write %d bytes to %s", len(a.String("content")), a.String("filename"))
	case action.KindCode:
		return "write generated code to " + CodeFilename(a.String("language"))
	case action.KindRead:
		return "read file " + a.String("filename")
	case action.KindSystemInfo:
		return "sample system information"
	default:
		return string(a.Type)
	}
}
