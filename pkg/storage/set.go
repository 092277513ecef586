// Package storage implements the NakedMud storage-set format: a tree of
// string-keyed sets and lists of sets, written as indentation-scoped text.
package storage

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Format markers. Changing any of these breaks compatibility with existing
// NakedMud data files.
const (
	IndentRate     = 2
	SetMarker      = '-'
	ListMarker     = '='
	StringMarker   = '~'
	TypelessMarker = ' '
)

// Reserved bookkeeping keys. They are never valid data keys.
const (
	ReadOrderKey = "\x00\x00READORDER\x00\x00"
	LongestKey   = "\x00\x00LONGEST\x00\x00"
)

var (
	ErrReservedKey = errors.New("storage: reserved key")
	ErrKeyNotFound = errors.New("storage: key not found")
	ErrInvalidKey  = errors.New("storage: invalid key")
	ErrInvalidType = errors.New("storage: invalid value type")
	ErrCycle       = errors.New("storage: value is an ancestor of its container")
)

// node is anything that can sit above a Set in the tree.
type node interface {
	markModified()
	parentNode() node
}

// Set is one level of a storage tree. Values are scalars (kept in their
// encoded text form), nested sets, or lists of sets.
//
// A Set is not safe for concurrent use.
type Set struct {
	parent   node
	modified bool
	data     map[string]any // string, *Set or *List
	order    []string       // key order as read from a file; nil if never loaded
	longest  int            // key column width as read from a file
}

// NewSet returns an empty, parentless set.
func NewSet() *Set {
	return &Set{data: make(map[string]any)}
}

func newChildSet(parent node) *Set {
	s := NewSet()
	s.parent = parent
	return s
}

// IsReserved reports whether key is one of the bookkeeping keys.
func IsReserved(key string) bool {
	return key == ReadOrderKey || key == LongestKey
}

// CheckKey returns an error if key cannot be stored in a set.
func CheckKey(key string) error {
	if IsReserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	if key == "" || strings.ContainsAny(key, ":\r\n") || strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func (s *Set) markModified() {
	s.modified = true
	if s.parent != nil {
		s.parent.markModified()
	}
}

func (s *Set) parentNode() node { return s.parent }

// Modified reports whether this set or anything beneath it changed since it
// was loaded or last cleared.
func (s *Set) Modified() bool { return s.modified }

// ClearModified resets the modified flag on this set and every descendant.
func (s *Set) ClearModified() {
	s.modified = false
	for _, v := range s.data {
		switch v := v.(type) {
		case *Set:
			v.ClearModified()
		case *List:
			v.ClearModified()
		}
	}
}

// Parent returns the set or list that contains s, or nil.
func (s *Set) Parent() any {
	if s.parent == nil {
		return nil
	}
	return s.parent
}

// Len returns the number of data keys.
func (s *Set) Len() int { return len(s.data) }

// Contains reports whether key holds a value.
func (s *Set) Contains(key string) bool {
	if IsReserved(key) {
		return false
	}
	_, ok := s.data[key]
	return ok
}

// Keys returns the data keys in write order: the recorded read order first,
// then any remaining keys sorted.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.data))
	seen := make(map[string]bool, len(s.data))
	for _, k := range s.order {
		if _, ok := s.data[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range s.data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// All iterates keys in write order together with their inferred values.
func (s *Set) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, k := range s.Keys() {
			if !yield(k, decode(s.data[k])) {
				return
			}
		}
	}
}

// width is the key column width used when writing this set.
func (s *Set) width() int {
	w := s.longest
	for k := range s.data {
		w = max(w, len(k))
	}
	return w
}

// Get returns the value stored at key with scalar types inferred: yes/no
// become bool, integers int64, decimals float64. Invalid UTF-8 scalars are
// returned unchanged as []byte, everything else as string.
func (s *Set) Get(key string) (any, error) {
	if IsReserved(key) {
		return nil, fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	v, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return decode(v), nil
}

// Set stores v at key. Accepted values are bool, any integer or float kind,
// string, []byte, *Set and *List.
func (s *Set) Set(key string, v any) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	switch v := v.(type) {
	case *Set:
		return s.StoreSet(key, v)
	case *List:
		return s.StoreList(key, v)
	}
	raw, err := encode(v)
	if err != nil {
		return fmt.Errorf("%w: key %q", err, key)
	}
	s.put(key, raw)
	return nil
}

// Delete removes key.
func (s *Set) Delete(key string) error {
	if IsReserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	if _, ok := s.data[key]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	delete(s.data, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.markModified()
	return nil
}

func (s *Set) put(key string, v any) {
	s.data[key] = v
	s.markModified()
}

// The Read methods return zero values, never an error: an absent key, a
// value of another kind and a reserved key all read as zero. Use Get to
// tell them apart.

// ReadBool returns the boolean at key, false if absent.
func (s *Set) ReadBool(key string) bool {
	raw, ok := s.scalar(key)
	if !ok {
		return false
	}
	switch raw {
	case "yes":
		return true
	case "no", "":
		return false
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return true
}

// ReadInt returns the integer at key, 0 if absent or not a number.
func (s *Set) ReadInt(key string) int64 {
	raw, ok := s.scalar(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(raw), 64); ferr == nil {
			return int64(f)
		}
		return 0
	}
	return n
}

// ReadDouble returns the float at key, 0 if absent or not a number.
func (s *Set) ReadDouble(key string) float64 {
	raw, ok := s.scalar(key)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return f
}

// ReadString returns the raw text at key, "" if absent.
func (s *Set) ReadString(key string) string {
	raw, _ := s.scalar(key)
	return raw
}

// ReadSet returns the set at key. If there is none, or key is reserved, a
// fresh empty set parented to s is returned; it is not stored until passed
// to StoreSet.
func (s *Set) ReadSet(key string) *Set {
	if !IsReserved(key) {
		if v, ok := s.data[key].(*Set); ok {
			return v
		}
	}
	return newChildSet(s)
}

// ReadList returns the list at key, or a fresh unstored list parented to s.
func (s *Set) ReadList(key string) *List {
	if !IsReserved(key) {
		if v, ok := s.data[key].(*List); ok {
			return v
		}
	}
	l := NewList()
	l.parent = s
	return l
}

func (s *Set) scalar(key string) (string, bool) {
	if IsReserved(key) {
		return "", false
	}
	raw, ok := s.data[key].(string)
	return raw, ok
}

// StoreBool stores v as yes/no.
func (s *Set) StoreBool(key string, v bool) error { return s.Set(key, v) }

// StoreInt stores v in decimal.
func (s *Set) StoreInt(key string, v int64) error { return s.Set(key, v) }

// StoreDouble stores v so that it reads back as a float.
func (s *Set) StoreDouble(key string, v float64) error { return s.Set(key, v) }

// StoreString stores v verbatim.
func (s *Set) StoreString(key string, v string) error { return s.Set(key, v) }

// StoreSet stores child at key and makes s its parent.
func (s *Set) StoreSet(key string, child *Set) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if child == nil {
		return fmt.Errorf("%w: nil set at key %q", ErrInvalidType, key)
	}
	if isAncestor(child, s) {
		return fmt.Errorf("%w: key %q", ErrCycle, key)
	}
	child.parent = s
	s.put(key, child)
	return nil
}

// StoreList stores l at key and makes s its parent.
func (s *Set) StoreList(key string, l *List) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("%w: nil list at key %q", ErrInvalidType, key)
	}
	if isAncestor(l, s) {
		return fmt.Errorf("%w: key %q", ErrCycle, key)
	}
	l.parent = s
	s.put(key, l)
	return nil
}

// Clone returns a deep, parentless copy of s including its recorded key
// order and column width.
func (s *Set) Clone() *Set {
	c := NewSet()
	c.longest = s.longest
	if s.order != nil {
		c.order = append([]string(nil), s.order...)
	}
	for k, v := range s.data {
		switch v := v.(type) {
		case *Set:
			child := v.Clone()
			child.parent = c
			c.data[k] = child
		case *List:
			l := v.clone()
			l.parent = c
			c.data[k] = l
		default:
			c.data[k] = v
		}
	}
	return c
}

// isAncestor reports whether candidate is n or lies above n in the tree.
func isAncestor(candidate, n node) bool {
	for cur := n; cur != nil; cur = cur.parentNode() {
		if cur == candidate {
			return true
		}
	}
	return false
}

func encode(v any) (string, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return "yes", nil
		}
		return "no", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return encodeDouble(float64(v))
	case float64:
		return encodeDouble(v)
	}
	return "", fmt.Errorf("%w: %T", ErrInvalidType, v)
}

// encodeDouble rejects NaN and infinities, which would read back as strings.
func encodeDouble(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite float %v", ErrInvalidType, f)
	}
	return formatDouble(f), nil
}

// formatDouble always leaves a decimal point so the value decodes as a float.
func formatDouble(f float64) string {
	out := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}

func decode(v any) any {
	raw, ok := v.(string)
	if !ok {
		return v
	}
	switch raw {
	case "yes":
		return true
	case "no":
		return false
	}
	if digits, dots := numberShape(raw); digits > 0 {
		if dots == 0 {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return n
			}
		} else if dots == 1 {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				return f
			}
		}
	}
	if !utf8.ValidString(raw) {
		return []byte(raw)
	}
	return raw
}

// numberShape counts digits and dots in raw, allowing one leading minus
// sign. It returns zero digits if any other byte is present.
func numberShape(raw string) (digits, dots int) {
	body := strings.TrimPrefix(raw, "-")
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return 0, 0
		}
	}
	return digits, dots
}
