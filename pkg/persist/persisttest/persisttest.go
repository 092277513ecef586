// Package persisttest checks that a persist.Store behaves like the others.
package persisttest

import (
	"errors"
	"testing"

	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) persist.Store) {
	t.Run("PutGet", func(t *testing.T) {
		st := open(t)
		doc := storage.NewSet()
		doc.StoreString("name", "The Tavern")
		doc.StoreInt("exits", 3)
		desc := storage.NewSet()
		desc.StoreString("text", "A smoky room.\nIt smells of ale.")
		doc.StoreSet("desc", desc)

		if err := st.Put("room", "tavern@town", doc); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := st.Get("room", "tavern@town")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ReadString("name") != "The Tavern" || got.ReadInt("exits") != 3 {
			t.Errorf("scalars lost: %v", got.Keys())
		}
		if got.ReadSet("desc").ReadString("text") != "A smoky room.\nIt smells of ale." {
			t.Errorf("nested set lost")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		st := open(t)
		for _, name := range []string{"first", "second"} {
			doc := storage.NewSet()
			doc.StoreString("name", name)
			if err := st.Put("object", "1", doc); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
		got, err := st.Get("object", "1")
		if err != nil || got.ReadString("name") != "second" {
			t.Errorf("Get = %v, %v", got, err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		st := open(t)
		if _, err := st.Get("room", "nowhere"); !errors.Is(err, persist.ErrNotFound) {
			t.Errorf("Get missing = %v, want ErrNotFound", err)
		}
		if err := st.Delete("room", "nowhere"); err != nil {
			t.Errorf("Delete missing: %v", err)
		}
		keys, err := st.Keys("never_used")
		if err != nil || len(keys) != 0 {
			t.Errorf("Keys on empty tag = %v, %v", keys, err)
		}
	})

	t.Run("KeysAndDelete", func(t *testing.T) {
		st := open(t)
		for _, key := range []string{"b", "a/north", "c"} {
			if err := st.Put("exit", key, storage.NewSet()); err != nil {
				t.Fatalf("Put %q: %v", key, err)
			}
		}
		st.Put("room", "x", storage.NewSet())
		if err := st.Delete("exit", "b"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		keys, err := st.Keys("exit")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		if len(keys) != 2 || keys[0] != "a/north" || keys[1] != "c" {
			t.Errorf("Keys = %v", keys)
		}
	})
}
