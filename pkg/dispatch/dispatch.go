// Package dispatch turns raw model replies into executed actions. Every
// outcome, including unparsable replies and failing or panicking
// handlers, comes back as a Result envelope; nothing propagates to the
// caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cgast/nexus/internal/metrics"
	"github.com/cgast/nexus/internal/sandbox"
	"github.com/cgast/nexus/pkg/action"
	"github.com/cgast/nexus/pkg/events"
	"github.com/cgast/nexus/pkg/platform/fs"
	"github.com/cgast/nexus/pkg/platform/shell"
	"github.com/cgast/nexus/pkg/sysinfo"
	"go.uber.org/zap"
)

// Dispatcher executes model replies. It is safe for concurrent use; two
// requests writing the same path race with last-write-wins.
type Dispatcher struct {
	handlers Handlers
	custom   *Handlers

	log      *zap.Logger
	bus      events.EventBus
	metrics  *metrics.Metrics
	sandbox  *sandbox.Sandbox
	files    fs.FS
	runner   shell.Runner
	sampler  sysinfo.Sampler
	approval ApprovalMode
	approver Approver
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithEvents publishes dispatch events on bus.
func WithEvents(bus events.EventBus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithMetrics records dispatch counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithSandbox restricts the paths and commands actions may touch.
func WithSandbox(sb *sandbox.Sandbox) Option {
	return func(d *Dispatcher) { d.sandbox = sb }
}

// WithWorkdir sets the directory relative paths and commands run in.
// The default is the process working directory.
func WithWorkdir(dir string) Option {
	return func(d *Dispatcher) {
		d.files.Root = dir
		d.runner.Dir = dir
	}
}

// WithCommandTimeout bounds command actions. Zero keeps
// shell.DefaultTimeout.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.runner.Timeout = timeout }
}

// WithShell overrides the interpreter used for command actions.
func WithShell(sh string) Option {
	return func(d *Dispatcher) { d.runner.Shell = sh }
}

// WithSampler replaces the host telemetry source.
func WithSampler(s sysinfo.Sampler) Option {
	return func(d *Dispatcher) { d.sampler = s }
}

// WithApprover gates actions according to mode.
func WithApprover(mode ApprovalMode, a Approver) Option {
	return func(d *Dispatcher) {
		d.approval = mode
		d.approver = a
	}
}

// WithHandlers replaces the built-in handler table.
func WithHandlers(h Handlers) Option {
	return func(d *Dispatcher) { d.custom = &h }
}

// New creates a Dispatcher. It fails when the handler table misses a
// kind or approval is requested without an approver.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		log:      zap.NewNop(),
		sampler:  sysinfo.Host{},
		approval: ApprovalNever,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.files.Sandbox = d.sandbox

	d.handlers = d.builtin()
	if d.custom != nil {
		d.handlers = *d.custom
	}
	if err := d.handlers.check(); err != nil {
		return nil, err
	}
	if d.approval != ApprovalNever && d.approver == nil {
		return nil, fmt.Errorf("dispatch: approval mode %q needs an approver", d.approval)
	}
	return d, nil
}

// HandleResponse parses raw model output and executes the action it
// describes.
func (d *Dispatcher) HandleResponse(ctx context.Context, raw string) Result {
	a, err := action.Parse(raw)
	if err != nil {
		res := parseFailure(err)
		d.log.Warn("unusable model reply", zap.Error(err), zap.Int("length", len(raw)))
		d.publish(ctx, events.EventDispatchError, res, 0)
		d.metrics.ObserveDispatch(string(action.KindError), false, 0)
		return res
	}
	return d.Dispatch(ctx, a)
}

// Dispatch executes an already parsed action.
func (d *Dispatcher) Dispatch(ctx context.Context, a action.Action) Result {
	start := time.Now()
	log := d.log.With(zap.String("kind", string(a.Type)))
	if id := events.RequestFrom(ctx); id != "" {
		log = log.With(zap.String("request_id", id))
	}

	res := d.dispatch(ctx, a, log)

	elapsed := time.Since(start)
	d.metrics.ObserveDispatch(string(a.Type), !res.Failed(), elapsed)
	if res.Failed() {
		log.Warn("action failed", zap.String("error", res.Error), zap.Duration("duration", elapsed))
		d.publish(ctx, events.EventDispatchError, res, elapsed)
	} else {
		log.Info("action done", zap.Duration("duration", elapsed))
		d.publish(ctx, events.EventDispatchResult, res, elapsed)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, a action.Action, log *zap.Logger) Result {
	if err := a.Validate(); err != nil {
		if errors.Is(err, action.ErrUnknownActionType) {
			return Failure(
				fmt.Sprintf("Unknown response type: %s", a.Type),
				fmt.Sprintf("Sorry, I don't know how to handle %s actions.", a.Type),
			)
		}
		return Failure(err.Error(), "Sorry, an error occurred: "+err.Error())
	}

	d.publish(ctx, events.EventDispatchStart, a.Type, 0)

	if d.approval.Requires(a.Type) {
		d.publish(ctx, events.EventApprovalAsked, Describe(a), 0)
		ok, err := d.approver.Approve(ctx, a)
		if err != nil {
			log.Warn("approval failed", zap.Error(err))
			return Failure(err.Error(), "Sorry, an error occurred: "+err.Error())
		}
		if !ok {
			d.publish(ctx, events.EventApprovalDenied, Describe(a), 0)
			return Failure(ErrNotApproved.Error(), "Okay, I won't do that.")
		}
	}

	res, err := d.invoke(ctx, a)
	if err != nil {
		log.Debug("handler error", zap.Error(err), zap.Bool("handler_error", errors.Is(err, action.ErrHandlerExecution)))
		msg := errors.Unwrap(err).Error()
		return Failure(msg, speakPrefix(a.Type)+msg)
	}
	res.Type = a.Type
	res.Speak = a.Speak
	return res
}

// invoke runs the handler, turning a panic into an error. Returned
// errors wrap action.ErrHandlerExecution around the cause.
func (d *Dispatcher) invoke(ctx context.Context, a action.Action) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked", zap.String("kind", string(a.Type)), zap.Any("panic", r), zap.Stack("stack"))
			err = &handlerError{cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	res, err = d.handlers.lookup(a.Type)(ctx, a)
	if err != nil {
		return Result{}, &handlerError{cause: err}
	}
	return res, nil
}

type handlerError struct{ cause error }

func (e *handlerError) Error() string {
	return action.ErrHandlerExecution.Error() + ": " + e.cause.Error()
}

// Unwrap returns the cause; Is matches action.ErrHandlerExecution.
func (e *handlerError) Unwrap() error { return e.cause }

func (e *handlerError) Is(target error) bool { return target == action.ErrHandlerExecution }

func (d *Dispatcher) publish(ctx context.Context, typ events.EventType, data any, elapsed time.Duration) {
	if d.bus == nil {
		return
	}
	ev := events.NewEvent(typ, data).WithRequest(events.RequestFrom(ctx))
	ev.Duration = elapsed
	d.bus.Publish(ev)
}

func parseFailure(err error) Result {
	if errors.Is(err, action.ErrInvalidStructure) {
		return Failure("Invalid response structure", "Sorry, an error occurred: Invalid response structure")
	}
	return Failure("Invalid JSON response", "Sorry, I received an invalid response format.")
}
