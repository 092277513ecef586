package persist_test

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/dynvars"
	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/persist/persisttest"
	"github.com/crystal-mush/nakedsun/pkg/storage"
	"github.com/crystal-mush/nakedsun/pkg/world"
)

func openFileStore(t *testing.T) persist.Store {
	st, err := persist.OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestFileStore(t *testing.T) {
	persisttest.Run(t, openFileStore)
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	st, _ := persist.OpenFileStore(dir)
	doc := storage.NewSet()
	doc.StoreString("dir", "north")
	if err := st.Put("exit", "tavern@town/north", doc); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "exit", "tavern@town%2Fnorth"))
	if err != nil {
		t.Fatalf("document not at expected path: %v", err)
	}
	if string(data) != "dir: north\n-\n" {
		t.Errorf("file contents = %q", data)
	}
	if err := st.Put("../etc", "x", doc); err == nil {
		t.Error("tag with a path separator accepted")
	}
	if err := st.Put("room", "..", doc); err == nil {
		t.Error("key .. accepted")
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	st, _ := persist.OpenFileStore(dir)
	os.MkdirAll(filepath.Join(dir, "room"), 0o755)
	os.WriteFile(filepath.Join(dir, "room", "bad"), []byte("name:?oops\n-\n"), 0o644)

	_, err := st.Get("room", "bad")
	var ferr *storage.FormatError
	if !errors.As(err, &ferr) {
		t.Errorf("error = %v, want FormatError", err)
	}
}

func newWorld(t *testing.T) *world.World {
	t.Helper()
	reg := auxiliary.NewRegistry(auxiliary.WithLogger(log.New(&bytes.Buffer{}, "", 0)))
	if err := world.Register(reg); err != nil {
		t.Fatal(err)
	}
	if err := dynvars.Install(reg); err != nil {
		t.Fatal(err)
	}
	return world.New(reg, nil)
}

func TestEntityRoundTrip(t *testing.T) {
	st := openFileStore(t)
	w := newWorld(t)
	ch := world.NewChar(w.NextUID(), "Bob")
	ch.Room = "tavern@town"
	if err := w.Add(ch, nil); err != nil {
		t.Fatal(err)
	}
	dynvars.Set(w.Registry(), ch, "quest", "dragon")

	if err := persist.SaveEntity(st, w.Registry(), ch); err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}

	w2 := newWorld(t)
	loaded := world.NewChar(ch.UID, "")
	if err := persist.LoadEntity(st, w2, loaded); err != nil {
		t.Fatalf("LoadEntity: %v", err)
	}
	if loaded.Name != "Bob" || loaded.Room != "tavern@town" {
		t.Errorf("fields = %q %q", loaded.Name, loaded.Room)
	}
	if v, _ := dynvars.Get(w2.Registry(), loaded, "quest"); v != "dragon" {
		t.Errorf("dynvar quest = %v", v)
	}
}

func TestDocumentWithoutAuxState(t *testing.T) {
	w := newWorld(t)
	acct := world.NewAccount("sue")
	w.Add(acct, nil)
	doc, err := persist.Document(w.Registry(), acct)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Contains(persist.AuxKey) {
		t.Error("empty auxiliary set written")
	}
}

func TestSaveAllLoadAll(t *testing.T) {
	st := openFileStore(t)
	w := newWorld(t)
	for _, name := range []string{"lamp", "rope", "sword"} {
		o := world.NewObj(w.NextUID(), name)
		w.Add(o, nil)
		dynvars.Set(w.Registry(), o, "origin", name+"-shop")
	}
	if n, err := persist.SaveAll(st, w, world.TagObject); err != nil || n != 3 {
		t.Fatalf("SaveAll = %d, %v", n, err)
	}

	w2 := newWorld(t)
	n, err := persist.LoadAll(st, w2, world.TagObject, func() world.Entity { return world.NewObj(0, "") })
	if err != nil || n != 3 {
		t.Fatalf("LoadAll = %d, %v", n, err)
	}
	for _, e := range w2.All(world.TagObject) {
		o := e.(*world.Obj)
		v, _ := dynvars.Get(w2.Registry(), o, "origin")
		if !strings.HasPrefix(v.(string), o.Name) {
			t.Errorf("object %s origin %v", o.Name, v)
		}
	}
	if uid := w2.NextUID(); uid != 4 {
		t.Errorf("NextUID after load = %d, want 4", uid)
	}
}

func TestCopyBetweenStores(t *testing.T) {
	src, dst := openFileStore(t), openFileStore(t)
	src.Put("room", "a", storage.NewSet())
	src.Put("room", "b", storage.NewSet())
	src.Put("account", "bob", storage.NewSet())
	n, err := persist.Copy(dst, src, "room", "account", "exit")
	if err != nil || n != 3 {
		t.Fatalf("Copy = %d, %v", n, err)
	}
	if _, err := dst.Get("account", "bob"); err != nil {
		t.Error(err)
	}
}

func TestEncodeDecode(t *testing.T) {
	doc := storage.NewSet()
	doc.StoreBool("open", true)
	data, err := persist.Encode(doc)
	if err != nil {
		t.Fatal(err)
	}
	back, err := persist.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !back.ReadBool("open") {
		t.Error("value lost")
	}
}
