package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/hooks"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// Hooks run by World.
const (
	HookAdded     = "entity_added"     // entity
	HookDestroyed = "entity_destroyed" // entity
)

// World is the table of live entities.
type World struct {
	reg   *auxiliary.Registry
	hooks *hooks.Dispatcher

	mu       sync.Mutex
	entities map[string]map[string]Entity // kind -> key -> entity
	uid      int64
}

// New returns an empty world. d may be nil.
func New(reg *auxiliary.Registry, d *hooks.Dispatcher) *World {
	return &World{
		reg:      reg,
		hooks:    d,
		entities: make(map[string]map[string]Entity),
	}
}

// Registry returns the auxiliary registry entities are initialized with.
func (w *World) Registry() *auxiliary.Registry { return w.reg }

// NextUID allocates a unique id for a character or object.
func (w *World) NextUID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.uid++
	return w.uid
}

// Add initializes e's auxiliary data from aux (nil for a new entity) and
// makes it live. A live entity with the same kind and key is an error.
func (w *World) Add(e Entity, aux *storage.Set) error {
	w.mu.Lock()
	table := w.entities[e.Kind()]
	if table == nil {
		table = make(map[string]Entity)
		w.entities[e.Kind()] = table
	}
	if _, ok := table[e.Key()]; ok {
		w.mu.Unlock()
		return fmt.Errorf("world: %s %q already exists", e.Kind(), e.Key())
	}
	table[e.Key()] = e
	w.bumpUID(e)
	w.mu.Unlock()

	if err := w.reg.Initialize(e, aux); err != nil {
		w.mu.Lock()
		delete(table, e.Key())
		w.mu.Unlock()
		return fmt.Errorf("world: %w", err)
	}
	w.run(HookAdded, e)
	return nil
}

// bumpUID keeps NextUID ahead of ids of loaded entities. Caller holds w.mu.
func (w *World) bumpUID(e Entity) {
	switch v := e.(type) {
	case *Char:
		w.uid = max(w.uid, v.UID)
	case *Obj:
		w.uid = max(w.uid, v.UID)
	}
}

// Get returns the live entity of kind with key.
func (w *World) Get(kind, key string) (Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[kind][key]
	return e, ok
}

// All returns the live entities of kind ordered by key.
func (w *World) All(kind string) []Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	table := w.entities[kind]
	out := make([]Entity, 0, len(table))
	for _, e := range table {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Counts returns the number of live entities per kind.
func (w *World) Counts() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.entities))
	for kind, table := range w.entities {
		out[kind] = len(table)
	}
	return out
}

// Destroy removes e from the world and releases its auxiliary data.
func (w *World) Destroy(e Entity) {
	w.mu.Lock()
	if table := w.entities[e.Kind()]; table != nil && table[e.Key()] == e {
		delete(table, e.Key())
	}
	w.mu.Unlock()

	w.run(HookDestroyed, e)
	e.AuxHolder().Release()
}

func (w *World) run(hook string, e Entity) {
	if w.hooks == nil {
		return
	}
	w.hooks.Run(hook, e)
}
