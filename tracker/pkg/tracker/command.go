package tracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// Command method names accepted by Dispatch.
const (
	MethodInit            = "init"
	MethodTrackEvent      = "trackEvent"
	MethodTrackPageView   = "trackPageView"
	MethodTrackClick      = "trackClick"
	MethodTrackFormSubmit = "trackFormSubmit"
	MethodTrackPurchase   = "trackPurchase"
	MethodSetGlobalProps  = "setGlobalProps"
	MethodOptOut          = "optOut"
	MethodOptIn           = "optIn"
	MethodFlush           = "flush"
)

var (
	errUnknownMethod = errors.New("unknown method")
	errBadArgument   = errors.New("bad argument")
)

// Command is one call recorded by the host.
type Command struct {
	Method string
	Args   []any
}

// CommandQueue collects commands pushed before an engine exists. Once an
// engine is built WithCommandQueue, the backlog is replayed in order and
// later pushes run immediately.
type CommandQueue struct {
	mu       sync.Mutex
	pending  []Command
	dispatch func(Command)
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Push records a command, or runs it when an engine is attached.
func (q *CommandQueue) Push(method string, args ...any) {
	cmd := Command{Method: method, Args: args}

	q.mu.Lock()
	dispatch := q.dispatch
	if dispatch == nil {
		q.pending = append(q.pending, cmd)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	dispatch(cmd)
}

// Len returns the number of commands waiting for an engine.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// attach replays the backlog through fn and then routes pushes to it.
// Commands pushed during the replay are replayed after the backlog.
func (q *CommandQueue) attach(fn func(Command)) {
	for {
		q.mu.Lock()
		backlog := q.pending
		q.pending = nil
		if len(backlog) == 0 {
			q.dispatch = fn
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		for _, cmd := range backlog {
			fn(cmd)
		}
	}
}

// detach stops routing pushes; later pushes queue up again.
func (q *CommandQueue) detach() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatch = nil
}

// Dispatch runs a command by its method name. Unknown methods and bad
// arguments are logged at debug level and ignored.
func (e *Engine) Dispatch(cmd Command) {
	defer e.guard(cmd.Method)

	if err := e.exec(cmd); err != nil {
		e.logger.Debug("command ignored", "method", cmd.Method, logging.Error(err))
	}
}

func (e *Engine) exec(cmd Command) error {
	args := cmd.Args
	switch cmd.Method {
	case MethodInit:
		e.Init()
	case MethodFlush:
		e.Flush()
	case MethodOptOut:
		e.OptOut()
	case MethodOptIn:
		e.OptIn()

	case MethodTrackEvent:
		name, err := stringArg(args, 0, true)
		if err != nil {
			return err
		}
		props, err := propsArg(args, 1)
		if err != nil {
			return err
		}
		e.TrackEvent(name, props)

	case MethodTrackPageView:
		path, err := stringArg(args, 0, false)
		if err != nil {
			return err
		}
		props, err := propsArg(args, 1)
		if err != nil {
			return err
		}
		e.TrackPageView(path, props)

	case MethodTrackClick:
		el, err := elementArg(args, 0)
		if err != nil {
			return err
		}
		props, err := propsArg(args, 1)
		if err != nil {
			return err
		}
		e.TrackClick(el, props)

	case MethodTrackFormSubmit:
		form, err := elementArg(args, 0)
		if err != nil {
			return err
		}
		success, err := boolArg(args, 1)
		if err != nil {
			return err
		}
		errorType, err := stringArg(args, 2, false)
		if err != nil {
			return err
		}
		props, err := propsArg(args, 3)
		if err != nil {
			return err
		}
		e.TrackFormSubmit(form, success, errorType, props)

	case MethodTrackPurchase:
		productID, err := stringArg(args, 0, true)
		if err != nil {
			return err
		}
		price, err := numberArg(args, 1)
		if err != nil {
			return err
		}
		currency, err := stringArg(args, 2, true)
		if err != nil {
			return err
		}
		props, err := propsArg(args, 3)
		if err != nil {
			return err
		}
		e.TrackPurchase(productID, price, currency, props)

	case MethodSetGlobalProps:
		props, err := propsArg(args, 0)
		if err != nil {
			return err
		}
		e.SetGlobalProps(props)

	default:
		return fmt.Errorf("%w %q", errUnknownMethod, cmd.Method)
	}
	return nil
}

func arg(args []any, i int) (any, bool) {
	if i >= len(args) || args[i] == nil {
		return nil, false
	}
	return args[i], true
}

func stringArg(args []any, i int, required bool) (string, error) {
	v, ok := arg(args, i)
	if !ok {
		if required {
			return "", fmt.Errorf("%w: argument %d is required", errBadArgument, i)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d must be a string, got %T", errBadArgument, i, v)
	}
	return s, nil
}

func boolArg(args []any, i int) (bool, error) {
	v, ok := arg(args, i)
	if !ok {
		return false, fmt.Errorf("%w: argument %d is required", errBadArgument, i)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: argument %d must be a bool, got %T", errBadArgument, i, v)
	}
	return b, nil
}

func numberArg(args []any, i int) (float64, error) {
	v, ok := arg(args, i)
	if !ok {
		return 0, fmt.Errorf("%w: argument %d is required", errBadArgument, i)
	}
	val, err := event.ValueOf(v)
	if err != nil {
		return 0, fmt.Errorf("%w: argument %d: %v", errBadArgument, i, err)
	}
	n, ok := val.Num()
	if !ok {
		return 0, fmt.Errorf("%w: argument %d must be a number, got %T", errBadArgument, i, v)
	}
	return n, nil
}

func propsArg(args []any, i int) (map[string]any, error) {
	v, ok := arg(args, i)
	if !ok {
		return nil, nil
	}
	switch p := v.(type) {
	case map[string]any:
		return p, nil
	case event.Props:
		out := make(map[string]any, len(p))
		for k, val := range p {
			out[k] = val.Any()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: argument %d must be a property map, got %T", errBadArgument, i, v)
	}
}

func elementArg(args []any, i int) (*host.Element, error) {
	v, ok := arg(args, i)
	if !ok {
		return nil, nil
	}
	el, ok := v.(*host.Element)
	if !ok {
		return nil, fmt.Errorf("%w: argument %d must be an element, got %T", errBadArgument, i, v)
	}
	return el, nil
}
