// Package bitvectors provides named sets of flags, such as user groups or
// object bits, that are defined at startup and extended by extensions.
package bitvectors

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoSuchVector = errors.New("bitvectors: no such bitvector")
	ErrNoSuchBit    = errors.New("bitvectors: no such bit")
)

// Registry holds bitvector definitions.
type Registry struct {
	mu      sync.RWMutex
	vectors map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{vectors: make(map[string][]string)}
}

// Default is the process-wide registry, pre-loaded with the standard
// vectors.
var Default = newDefault()

func newDefault() *Registry {
	r := NewRegistry()
	r.Create("user_groups", "player", "playtester", "builder", "scripter", "wizard", "admin")
	r.Create("char_prfs")
	r.Create("obj_bits", "notake")
	r.Create("room_bits")
	return r
}

// Create defines vector, or extends it with bits if it already exists.
// Bits already present are ignored.
func (r *Registry) Create(vector string, bits ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.vectors[vector]
	if !ok {
		cur = []string{}
	}
	for _, b := range bits {
		b = strings.TrimSpace(b)
		if b != "" && !slices.Contains(cur, b) {
			cur = append(cur, b)
		}
	}
	r.vectors[vector] = cur
}

// Bits returns the bits defined for vector, in definition order.
func (r *Registry) Bits(vector string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bits, ok := r.vectors[vector]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchVector, vector)
	}
	return slices.Clone(bits), nil
}

func (r *Registry) defined(vector, bit string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.vectors[vector], bit)
}

// New returns a bitvector of the named vector with the comma-separated
// bits set.
func (r *Registry) New(vector, bits string) (*Bitvector, error) {
	if _, err := r.Bits(vector); err != nil {
		return nil, err
	}
	b := &Bitvector{reg: r, vector: vector, bits: make(map[string]bool)}
	if err := b.SetString(bits); err != nil {
		return nil, err
	}
	return b, nil
}

// Bitvector is a set of bits from one vector.
type Bitvector struct {
	reg    *Registry
	vector string
	bits   map[string]bool
}

// Vector returns the vector name.
func (b *Bitvector) Vector() string { return b.vector }

// Has reports whether bit is set.
func (b *Bitvector) Has(bit string) bool { return b.bits[bit] }

// Set sets or clears bit. The bit must be defined for the vector.
func (b *Bitvector) Set(bit string, on bool) error {
	if !b.reg.defined(b.vector, bit) {
		return fmt.Errorf("%w: %q in %q", ErrNoSuchBit, bit, b.vector)
	}
	if on {
		b.bits[bit] = true
	} else {
		delete(b.bits, bit)
	}
	return nil
}

// SetString replaces the set bits with the comma-separated list in bits. On
// error the bitvector is unchanged.
func (b *Bitvector) SetString(bits string) error {
	next := make(map[string]bool)
	for _, word := range strings.Split(bits, ",") {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		if !b.reg.defined(b.vector, word) {
			return fmt.Errorf("%w: %q in %q", ErrNoSuchBit, word, b.vector)
		}
		next[word] = true
	}
	b.bits = next
	return nil
}

// Any reports whether any bit is set.
func (b *Bitvector) Any() bool { return len(b.bits) > 0 }

// Clear unsets every bit.
func (b *Bitvector) Clear() { b.bits = make(map[string]bool) }

// SetAll sets every defined bit, or clears them all.
func (b *Bitvector) SetAll(on bool) {
	b.Clear()
	if !on {
		return
	}
	bits, _ := b.reg.Bits(b.vector)
	for _, bit := range bits {
		b.bits[bit] = true
	}
}

// Copy returns an independent copy.
func (b *Bitvector) Copy() *Bitvector {
	c := &Bitvector{reg: b.reg, vector: b.vector, bits: make(map[string]bool, len(b.bits))}
	for k := range b.bits {
		c.bits[k] = true
	}
	return c
}

// And returns the bits set in both b and o.
func (b *Bitvector) And(o *Bitvector) *Bitvector {
	c := &Bitvector{reg: b.reg, vector: b.vector, bits: make(map[string]bool)}
	for k := range b.bits {
		if o.bits[k] {
			c.bits[k] = true
		}
	}
	return c
}

// Or returns the bits set in either b or o.
func (b *Bitvector) Or(o *Bitvector) *Bitvector {
	c := b.Copy()
	for k := range o.bits {
		c.bits[k] = true
	}
	return c
}

// String returns the set bits, sorted and comma separated. The result is
// accepted by SetString.
func (b *Bitvector) String() string {
	names := make([]string, 0, len(b.bits))
	for k := range b.bits {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
