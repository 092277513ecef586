package auxiliary

import (
	"sync"
	"weak"
)

// Owner is anything that can carry auxiliary data. Embedding Holder
// satisfies it.
type Owner interface {
	AuxHolder() *Holder
}

// Holder is the per-owner table of auxiliary instances, populated by
// Registry.Initialize. Embed it in owner structs:
//
//	type Room struct {
//		auxiliary.Holder
//		...
//	}
type Holder struct {
	mu       sync.Mutex
	reg      *Registry
	owner    Owner
	tag      string
	table    map[string]Data
	released bool
}

// AuxHolder implements Owner.
func (h *Holder) AuxHolder() *Holder { return h }

// Aux returns the auxiliary instance registered under name. It fails like
// Registry.Get: ErrTypeNotRegistered when the owner's type was unknown to
// the registry that initialized it, ErrNoSuchName when name is not installed
// for the type and ErrUnavailable when the owner has no instance of it. A
// holder no registry has seen yet returns ErrUnavailable.
func (h *Holder) Aux(name string) (Data, error) {
	h.mu.Lock()
	reg, owner, tag := h.reg, h.owner, h.tag
	h.mu.Unlock()
	if reg == nil {
		return nil, ErrUnavailable
	}
	if tag == "" {
		return reg.Get(owner, name)
	}
	return reg.get(h, name)
}

// Tag returns the owner type the holder was initialized as, or "".
func (h *Holder) Tag() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tag
}

// Release drops every auxiliary instance. References to the owner held by
// those instances report it as gone afterwards. Call it when the owner is
// destroyed.
func (h *Holder) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.table = nil
	h.owner = nil
}

// Released reports whether Release has been called.
func (h *Holder) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Holder) lookup(name string) (Data, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.table[name]
	return d, ok
}

func (h *Holder) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.table))
	for name := range h.table {
		names = append(names, name)
	}
	return names
}

// Ref is a non-owning reference from auxiliary data back to its owner. It
// never keeps the owner alive.
type Ref struct {
	p weak.Pointer[Holder]
}

func refTo(h *Holder) Ref {
	return Ref{p: weak.Make(h)}
}

// Owner returns the owner, or nil once it has been released or collected.
func (r Ref) Owner() Owner {
	h := r.p.Value()
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.owner
}

// Valid reports whether the owner is still around.
func (r Ref) Valid() bool { return r.Owner() != nil }

// Base implements OwnerAware. Embed it in auxiliary data structs that need
// their owner.
type Base struct {
	ref Ref
}

// SetOwner implements OwnerAware.
func (b *Base) SetOwner(ref Ref) { b.ref = ref }

// Owner returns the owner, or nil if it is gone.
func (b *Base) Owner() Owner { return b.ref.Owner() }

// OwnerRef returns the reference itself.
func (b *Base) OwnerRef() Ref { return b.ref }
