// Package persist saves world entities and their auxiliary data as
// storage-format documents in a pluggable backend.
package persist

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/storage"
	"github.com/crystal-mush/nakedsun/pkg/world"
)

// ErrNotFound is returned by Store.Get for a missing document.
var ErrNotFound = errors.New("persist: not found")

// AuxKey is the document key holding an entity's auxiliary data.
const AuxKey = "auxiliary"

// Store keeps one document per (owner type tag, key).
type Store interface {
	Put(tag, key string, doc *storage.Set) error
	Get(tag, key string) (*storage.Set, error)
	Delete(tag, key string) error
	// Keys returns the sorted keys stored under tag.
	Keys(tag string) ([]string, error)
	Close() error
}

// Encode returns the storage-format text of doc.
func Encode(doc *storage.Set) ([]byte, error) {
	var buf bytes.Buffer
	if err := storage.Write(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses storage-format text.
func Decode(data []byte) (*storage.Set, error) {
	return storage.Parse(bytes.NewReader(data))
}

// Document builds the saved form of e: its own fields plus an "auxiliary"
// set when it has auxiliary data with state.
func Document(reg *auxiliary.Registry, e world.Entity) (*storage.Set, error) {
	doc := storage.NewSet()
	if err := e.StoreFields(doc); err != nil {
		return nil, fmt.Errorf("persist: %v: %w", e, err)
	}
	aux, err := reg.Store(e)
	if err != nil {
		return nil, fmt.Errorf("persist: %v: %w", e, err)
	}
	if aux.Len() > 0 {
		if err := doc.StoreSet(AuxKey, aux); err != nil {
			return nil, fmt.Errorf("persist: %v: %w", e, err)
		}
	}
	return doc, nil
}

// SaveEntity writes e to st.
func SaveEntity(st Store, reg *auxiliary.Registry, e world.Entity) error {
	doc, err := Document(reg, e)
	if err != nil {
		return err
	}
	if err := st.Put(e.Kind(), e.Key(), doc); err != nil {
		return fmt.Errorf("persist: save %v: %w", e, err)
	}
	return nil
}

// LoadEntity fills e from the document saved under its kind and key, then
// adds it to w with its auxiliary data.
func LoadEntity(st Store, w *world.World, e world.Entity) error {
	doc, err := st.Get(e.Kind(), e.Key())
	if err != nil {
		return err
	}
	return add(w, e, doc)
}

func add(w *world.World, e world.Entity, doc *storage.Set) error {
	if err := e.LoadFields(doc); err != nil {
		return fmt.Errorf("persist: load %s: %w", e.Kind(), err)
	}
	var aux *storage.Set
	if doc.Contains(AuxKey) {
		aux = doc.ReadSet(AuxKey)
	}
	return w.Add(e, aux)
}

// LoadAll loads every document of kind into w, creating entities with
// newEntity. It stops at the first error.
func LoadAll(st Store, w *world.World, kind string, newEntity func() world.Entity) (int, error) {
	keys, err := st.Keys(kind)
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		doc, err := st.Get(kind, key)
		if err != nil {
			return i, err
		}
		if err := add(w, newEntity(), doc); err != nil {
			return i, fmt.Errorf("persist: %s %q: %w", kind, key, err)
		}
	}
	return len(keys), nil
}

// SaveAll writes every live entity of kind.
func SaveAll(st Store, w *world.World, kind string) (int, error) {
	all := w.All(kind)
	for i, e := range all {
		if err := SaveEntity(st, w.Registry(), e); err != nil {
			return i, err
		}
	}
	return len(all), nil
}

// Copy copies every document of the given tags from src to dst.
func Copy(dst, src Store, tags ...string) (int, error) {
	n := 0
	for _, tag := range tags {
		keys, err := src.Keys(tag)
		if err != nil {
			return n, err
		}
		for _, key := range keys {
			doc, err := src.Get(tag, key)
			if err != nil {
				return n, err
			}
			if err := dst.Put(tag, key, doc); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
