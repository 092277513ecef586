// Package auxiliary lets extension code attach typed, persistent data to
// world objects. Owner types are registered under a short tag, auxiliary
// data classes are installed on one or more tags, and every owner gets one
// instance of each class when it is initialized.
package auxiliary

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/crystal-mush/nakedsun/pkg/hooks"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

var (
	ErrTypeNotRegistered = errors.New("auxiliary: owner type not registered")
	ErrNoSuchName        = errors.New("auxiliary: no such auxiliary data")
	ErrUnavailable       = errors.New("auxiliary: auxiliary data unavailable")
	ErrInvalidClass      = errors.New("auxiliary: invalid auxiliary data class")
)

// Hooks run by the registry when it has a dispatcher.
const (
	HookInstalled   = "auxiliary_installed"   // name, tag, class
	HookOverwritten = "auxiliary_overwritten" // name, tag, old class, new class
	HookFailed      = "auxiliary_failed"      // owner, name, error
)

// Observer is told about auxiliary data that failed to initialize.
type Observer interface {
	AuxFailed(tag, name string)
}

type ownerType struct {
	tag   string
	typ   reflect.Type
	iface bool // match by Implements rather than identity
}

// Registry maps owner types to the auxiliary data classes installed on them.
// Register owner types first, then install classes, then initialize owners.
type Registry struct {
	mu       sync.RWMutex
	types    []ownerType
	tags     map[string]bool
	classes  map[string]map[string]*class // tag -> name -> class
	hooks    *hooks.Dispatcher
	logger   *log.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithHooks runs the registry's notification hooks on d.
func WithHooks(d *hooks.Dispatcher) Option {
	return func(r *Registry) { r.hooks = d }
}

// WithLogger sends warnings and extension failures to l.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithObserver reports initialization failures to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tags:    make(map[string]bool),
		classes: make(map[string]map[string]*class),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// RegisterType associates an owner type with tag. sample is a value of the
// type, usually a nil pointer like (*world.Room)(nil). A nil pointer to an
// interface type, like (*Widget)(nil), matches every owner implementing the
// interface.
func (r *Registry) RegisterType(tag string, sample any) error {
	tag = normalizeTag(tag)
	if tag == "" {
		return fmt.Errorf("auxiliary: empty owner type tag")
	}
	typ := reflect.TypeOf(sample)
	if typ == nil {
		return fmt.Errorf("auxiliary: nil sample for owner type %q", tag)
	}
	ot := ownerType{tag: tag, typ: typ}
	if typ.Kind() == reflect.Pointer && typ.Elem().Kind() == reflect.Interface {
		ot.typ = typ.Elem()
		ot.iface = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.types {
		if cur.typ == ot.typ {
			r.types[i] = ot
			r.tags[tag] = true
			return nil
		}
	}
	r.types = append(r.types, ot)
	r.tags[tag] = true
	return nil
}

// TagOf returns the tag of the first registered owner type owner matches.
func (r *Registry) TagOf(owner any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tagOf(owner)
}

func (r *Registry) tagOf(owner any) (string, error) {
	typ := reflect.TypeOf(owner)
	if typ != nil {
		for _, ot := range r.types {
			if (ot.iface && typ.Implements(ot.typ)) || (!ot.iface && typ == ot.typ) {
				return ot.tag, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %T", ErrTypeNotRegistered, owner)
}

// Install binds name to the class of proto on every comma-separated tag in
// tags. Every tag must already be registered. Replacing an existing binding
// logs a warning and the new class wins; data saved in the old class's
// format may no longer load.
func (r *Registry) Install(name string, proto any, tags string) error {
	if name == "" || storage.CheckKey(name) != nil {
		return fmt.Errorf("%w: bad auxiliary data name %q", ErrInvalidClass, name)
	}
	cls, err := newClass(name, proto)
	if err != nil {
		return err
	}

	var targets []string
	for _, word := range strings.Split(tags, ",") {
		if word = normalizeTag(word); word != "" {
			targets = append(targets, word)
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("auxiliary: no owner types given for %q", name)
	}

	type replaced struct {
		tag string
		old *class
	}
	var overwritten []replaced

	r.mu.Lock()
	for _, tag := range targets {
		if !r.tags[tag] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrTypeNotRegistered, tag)
		}
	}
	for _, tag := range targets {
		table := r.classes[tag]
		if table == nil {
			table = make(map[string]*class)
			r.classes[tag] = table
		}
		if old, ok := table[name]; ok {
			overwritten = append(overwritten, replaced{tag, old})
		}
		table[name] = cls
	}
	r.mu.Unlock()

	for _, o := range overwritten {
		r.logf("auxiliary: WARNING: overwriting existing auxiliary data class %q on type %q (%s with %s)",
			name, o.tag, o.old, cls)
		r.runHook(HookOverwritten, name, o.tag, o.old.String(), cls.String())
	}
	for _, tag := range targets {
		r.runHook(HookInstalled, name, tag, cls.String())
	}
	return nil
}

// Classes returns the sorted auxiliary names installed on tag.
func (r *Registry) Classes(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.classes[normalizeTag(tag)]
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshot returns the classes installed on tag in name order.
func (r *Registry) snapshot(tag string) []*class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.classes[tag]
	out := make([]*class, 0, len(table))
	for _, c := range table {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Initialize creates one instance of every class installed on owner's type
// and records them in its Holder, replacing any previous instances. tree is
// the owner's saved data, or nil for a new owner; each class receives the
// subtree stored under its name.
//
// A class whose Init fails or panics is logged and left out. The owner and
// the other classes are unaffected. Only an unregistered owner type is
// returned as an error.
func (r *Registry) Initialize(owner Owner, tree *storage.Set) error {
	r.mu.RLock()
	tag, err := r.tagOf(owner)
	r.mu.RUnlock()
	h := owner.AuxHolder()
	if err != nil {
		// Later Aux calls report the unregistered type too.
		h.mu.Lock()
		h.reg, h.owner, h.tag, h.table = r, owner, "", nil
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	h.reg = r
	h.owner = owner
	h.tag = tag
	h.released = false
	h.table = make(map[string]Data)
	h.mu.Unlock()

	for _, cls := range r.snapshot(tag) {
		data, err := r.construct(cls, h, subtree(tree, cls.name))
		if err != nil {
			r.logf("auxiliary: error initializing auxiliary data class %q (%s) for %v: %v",
				cls.name, cls, owner, err)
			if r.observer != nil {
				r.observer.AuxFailed(tag, cls.name)
			}
			r.runHook(HookFailed, owner, cls.name, err)
			continue
		}
		h.mu.Lock()
		h.table[cls.name] = data
		h.mu.Unlock()
	}
	return nil
}

func subtree(tree *storage.Set, name string) *storage.Set {
	if tree == nil || !tree.Contains(name) {
		return nil
	}
	v, err := tree.Get(name)
	if err != nil {
		return nil
	}
	sub, _ := v.(*storage.Set)
	return sub
}

func (r *Registry) construct(cls *class, h *Holder, tree *storage.Set) (data Data, err error) {
	defer func() {
		if p := recover(); p != nil {
			data, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	data = cls.instantiate()
	if oa, ok := data.(OwnerAware); ok {
		oa.SetOwner(refTo(h))
	}
	if err := data.Init(tree); err != nil {
		return nil, err
	}
	return data, nil
}

// Get returns owner's instance of the auxiliary data installed as name.
// It fails with ErrNoSuchName if name is not installed on owner's type and
// with ErrUnavailable if the owner has no instance, for example because
// its initialization failed or the class was installed afterwards.
func (r *Registry) Get(owner Owner, name string) (Data, error) {
	r.mu.RLock()
	tag, err := r.tagOf(owner)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return r.lookup(owner.AuxHolder(), tag, name)
}

func (r *Registry) get(h *Holder, name string) (Data, error) {
	return r.lookup(h, h.Tag(), name)
}

func (r *Registry) lookup(h *Holder, tag, name string) (Data, error) {
	r.mu.RLock()
	_, known := r.classes[tag][name]
	r.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: %q for type %q", ErrNoSuchName, name, tag)
	}
	if d, ok := h.lookup(name); ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnavailable, name)
}

// Lookup is Get with a type assertion to the concrete class.
func Lookup[T Data](r *Registry, owner Owner, name string) (T, error) {
	var zero T
	d, err := r.Get(owner, name)
	if err != nil {
		return zero, err
	}
	t, ok := d.(T)
	if !ok {
		return zero, fmt.Errorf("auxiliary: %q is %T, not %T", name, d, zero)
	}
	return t, nil
}

// Store assembles the saved form of all of owner's auxiliary data: one
// subtree per instance, keyed by auxiliary name. Instances with no state are
// left out. A Store that panics is logged and skipped.
func (r *Registry) Store(owner Owner) (*storage.Set, error) {
	r.mu.RLock()
	_, err := r.tagOf(owner)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	h := owner.AuxHolder()
	names := h.names()
	sort.Strings(names)
	out := storage.NewSet()
	for _, name := range names {
		data, ok := h.lookup(name)
		if !ok {
			continue
		}
		tree, err := r.store(data)
		if err != nil {
			r.logf("auxiliary: error storing auxiliary data %q for %v: %v", name, owner, err)
			continue
		}
		if tree == nil {
			continue
		}
		if err := out.StoreSet(name, tree); err != nil {
			return nil, fmt.Errorf("auxiliary: store %q: %w", name, err)
		}
	}
	return out, nil
}

func (r *Registry) store(data Data) (tree *storage.Set, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return data.Store(), nil
}

// CopyTo copies every auxiliary instance of from onto to. Instances to
// already has receive the state through CopyTo; missing ones are filled
// with a Copy. Both owners must be of the same type.
func (r *Registry) CopyTo(from, to Owner) error {
	r.mu.RLock()
	fromTag, err := r.tagOf(from)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	toTag, err := r.tagOf(to)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	if fromTag != toTag {
		return fmt.Errorf("auxiliary: cannot copy %q data onto %q", fromTag, toTag)
	}

	src, dst := from.AuxHolder(), to.AuxHolder()
	dst.mu.Lock()
	if dst.table == nil {
		dst.reg = r
		dst.owner = to
		dst.tag = toTag
		dst.table = make(map[string]Data)
	}
	dst.mu.Unlock()

	names := src.names()
	sort.Strings(names)
	for _, name := range names {
		data, ok := src.lookup(name)
		if !ok {
			continue
		}
		if existing, ok := dst.lookup(name); ok {
			data.CopyTo(existing)
			continue
		}
		cp := data.Copy()
		if oa, ok := cp.(OwnerAware); ok {
			oa.SetOwner(refTo(dst))
		}
		dst.mu.Lock()
		dst.table[name] = cp
		dst.mu.Unlock()
	}
	return nil
}

func (r *Registry) runHook(name string, args ...any) {
	if r.hooks == nil {
		return
	}
	if err := r.hooks.Run(name, args...); err != nil {
		r.logf("auxiliary: hook %s: %v", name, err)
	}
}

func (r *Registry) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
