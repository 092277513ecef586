package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/persist/persisttest"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "game.bolt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	persisttest.Run(t, func(t *testing.T) persist.Store { return openTemp(t) })
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	doc := storage.NewSet()
	doc.StoreString("name", "bob")
	if err := s.Put("account", "bob", doc); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get("account", "bob")
	if err != nil || got.ReadString("name") != "bob" {
		t.Errorf("Get after reopen = %v, %v", got, err)
	}
	if !s.HasData() {
		t.Error("HasData = false")
	}
}

func TestPutManyAndTags(t *testing.T) {
	s := openTemp(t)
	if s.HasData() {
		t.Fatal("new store has data")
	}
	docs := map[string]*storage.Set{}
	for _, k := range []string{"1", "2", "3"} {
		d := storage.NewSet()
		d.StoreString("uid", k)
		docs[k] = d
	}
	if err := s.PutMany("object", docs); err != nil {
		t.Fatal(err)
	}
	s.Put("room", "void", storage.NewSet())
	tags, err := s.Tags()
	if err != nil || len(tags) != 2 || tags[0] != "object" || tags[1] != "room" {
		t.Errorf("Tags = %v, %v", tags, err)
	}
	keys, _ := s.Keys("object")
	if len(keys) != 3 {
		t.Errorf("Keys = %v", keys)
	}
}

func TestBackup(t *testing.T) {
	s := openTemp(t)
	s.Put("room", "void", storage.NewSet())
	path := filepath.Join(t.TempDir(), "snapshot.bolt")
	if err := s.Backup(path); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	snap, err := Open(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	if _, err := snap.Get("room", "void"); err != nil {
		t.Errorf("snapshot missing document: %v", err)
	}
}
