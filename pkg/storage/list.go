package storage

import (
	"fmt"
	"iter"
)

// List is an ordered sequence of sets.
type List struct {
	parent   node
	modified bool
	sets     []*Set
}

// NewList returns an empty, parentless list.
func NewList() *List {
	return &List{}
}

func (l *List) markModified() {
	l.modified = true
	if l.parent != nil {
		l.parent.markModified()
	}
}

func (l *List) parentNode() node { return l.parent }

// Modified reports whether the list or any set in it changed.
func (l *List) Modified() bool { return l.modified }

// ClearModified resets the modified flag on the list and its sets.
func (l *List) ClearModified() {
	l.modified = false
	for _, s := range l.sets {
		s.ClearModified()
	}
}

// Add appends s and re-parents it to the list. A set that is already an
// ancestor of the list is rejected.
func (l *List) Add(s *Set) error {
	if s == nil {
		return fmt.Errorf("%w: nil set", ErrInvalidType)
	}
	if isAncestor(s, l) {
		return ErrCycle
	}
	s.parent = l
	l.sets = append(l.sets, s)
	l.markModified()
	return nil
}

// Len returns the number of sets.
func (l *List) Len() int { return len(l.sets) }

// At returns the i'th set.
func (l *List) At(i int) *Set { return l.sets[i] }

// Sets returns a copy of the slice of sets.
func (l *List) Sets() []*Set {
	return append([]*Set(nil), l.sets...)
}

// All iterates the sets in order.
func (l *List) All() iter.Seq2[int, *Set] {
	return func(yield func(int, *Set) bool) {
		for i, s := range l.sets {
			if !yield(i, s) {
				return
			}
		}
	}
}

func (l *List) clone() *List {
	c := &List{sets: make([]*Set, 0, len(l.sets))}
	for _, s := range l.sets {
		child := s.Clone()
		child.parent = c
		c.sets = append(c.sets, child)
	}
	return c
}
