// Package hooks provides named, priority-ordered hooks that extensions use to
// observe and react to server events without touching core code.
package hooks

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"runtime"
	"sort"
	"sync"
)

// ErrStop halts the remaining handlers of the current Run when returned (or
// wrapped) by a handler.
var ErrStop = errors.New("hooks: stop propagation")

// ErrPackedArgs is returned by Run when a packed Info is mixed with other
// arguments.
var ErrPackedArgs = errors.New("hooks: a packed Info must be the only argument")

// ExitError asks the process to exit. A handler returning one aborts
// dispatch and Run hands it back to the caller.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("hooks: exit requested (code %d)", e.Code)
}

// Exit returns an *ExitError with the given code.
func Exit(code int) error {
	return &ExitError{Code: code}
}

// Call carries the arguments of one hook invocation.
type Call struct {
	Hook   string
	Args   []any
	Kwargs map[string]any
}

// Arg returns positional argument i, or nil if there are fewer arguments.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Kwarg returns the keyword argument name, or nil.
func (c *Call) Kwarg(name string) any {
	return c.Kwargs[name]
}

// Func is a hook handler.
type Func func(c *Call) error

// Handler is a registered hook function. It is the token passed to
// Unregister.
type Handler struct {
	hook     string
	name     string
	priority int
	legacy   bool
	fn       Func
}

// Name identifies the handler in logs.
func (h *Handler) Name() string { return h.name }

// Hook returns the hook name the handler is registered for.
func (h *Handler) Hook() string { return h.hook }

// Priority returns the handler's priority; higher runs earlier.
func (h *Handler) Priority() int { return h.priority }

// Legacy reports whether the handler uses the packed-argument convention.
func (h *Handler) Legacy() bool { return h.legacy }

// Option configures a handler at registration.
type Option func(*Handler)

// WithPriority sets the handler priority (default 0).
func WithPriority(p int) Option {
	return func(h *Handler) { h.priority = p }
}

// WithName overrides the handler name used in logs.
func WithName(name string) Option {
	return func(h *Handler) { h.name = name }
}

// Observer is notified about dispatch outcomes.
type Observer interface {
	HookRun(hook string)
	HookStopped(hook string)
	HandlerFailed(hook, handler string)
}

// Dispatcher holds the hook tables. Registration is guarded by a mutex; Run
// iterates a snapshot, so handlers may register, unregister or run other
// hooks while being dispatched.
type Dispatcher struct {
	mu       sync.RWMutex
	buckets  map[string]map[int][]*Handler // hook -> priority -> handlers
	table    map[string][]*Handler         // hook -> run order; absent when empty
	logger   *log.Logger
	observer Observer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sends handler failures to l instead of the standard logger.
func WithLogger(l *log.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithObserver reports dispatch outcomes to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// New creates an empty dispatcher.
func New(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		buckets: make(map[string]map[int][]*Handler),
		table:   make(map[string][]*Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds fn to hook and returns its handle.
func (d *Dispatcher) Register(hook string, fn Func, opts ...Option) *Handler {
	h := &Handler{hook: hook, name: funcName(fn), fn: fn}
	for _, opt := range opts {
		opt(h)
	}
	d.add(h)
	return h
}

func (d *Dispatcher) add(h *Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prio := d.buckets[h.hook]
	if prio == nil {
		prio = make(map[int][]*Handler)
		d.buckets[h.hook] = prio
	}
	prio[h.priority] = append(prio[h.priority], h)
	d.rebuild(h.hook)
}

// rebuild recomputes the run order of hook. Caller holds d.mu.
func (d *Dispatcher) rebuild(hook string) {
	prio := d.buckets[hook]
	levels := make([]int, 0, len(prio))
	for p, hs := range prio {
		if len(hs) == 0 {
			delete(prio, p)
			continue
		}
		levels = append(levels, p)
	}
	if len(levels) == 0 {
		delete(d.buckets, hook)
		delete(d.table, hook)
		return
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	// Always a fresh slice: running dispatches hold the old one.
	var order []*Handler
	for _, p := range levels {
		order = append(order, prio[p]...)
	}
	d.table[hook] = order
}

// Unregister removes h from hook. It reports whether anything was removed.
func (d *Dispatcher) Unregister(hook string, h *Handler) bool {
	if h == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	prio, ok := d.buckets[hook]
	if !ok {
		return false
	}
	hs := prio[h.priority]
	for i, cur := range hs {
		if cur == h {
			prio[h.priority] = append(hs[:i:i], hs[i+1:]...)
			d.rebuild(hook)
			return true
		}
	}
	return false
}

// Run invokes every handler of hook with args, highest priority first.
func (d *Dispatcher) Run(hook string, args ...any) error {
	return d.RunKwargs(hook, nil, args...)
}

// RunKwargs is Run with keyword arguments. Legacy handlers do not receive
// kwargs.
//
// A handler returning ErrStop ends this dispatch. A handler returning an
// *ExitError ends it and the error is returned. Any other error or panic is
// logged and dispatch moves on to the next handler.
func (d *Dispatcher) RunKwargs(hook string, kwargs map[string]any, args ...any) error {
	d.mu.RLock()
	handlers := d.table[hook]
	d.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	if len(args) > 0 {
		if info, ok := args[0].(Info); ok {
			if len(args) > 1 || len(kwargs) > 0 {
				return fmt.Errorf("%w (hook %q)", ErrPackedArgs, hook)
			}
			args = []any(info)
		}
	}

	if d.observer != nil {
		d.observer.HookRun(hook)
	}
	call := &Call{Hook: hook, Args: args, Kwargs: kwargs}
	for _, h := range handlers {
		err := d.invoke(h, call)
		if err == nil {
			continue
		}
		var exit *ExitError
		switch {
		case errors.Is(err, ErrStop):
			if d.observer != nil {
				d.observer.HookStopped(hook)
			}
			return nil
		case errors.As(err, &exit):
			return err
		default:
			d.logf("hooks: error running %s for hook %q: %v", h.name, hook, err)
			if d.observer != nil {
				d.observer.HandlerFailed(hook, h.name)
			}
		}
	}
	return nil
}

func (d *Dispatcher) invoke(h *Handler, call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				var exit *ExitError
				if errors.As(e, &exit) {
					err = e
					return
				}
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(call)
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Handlers returns the number of handlers registered for hook.
func (d *Dispatcher) Handlers(hook string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.table[hook])
}

// Names returns the sorted names of hooks that have handlers.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.table))
	for name := range d.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", fn)
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("%T", fn)
}
