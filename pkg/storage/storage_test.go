package storage

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// The blank line inside desc carries the block indentation, as Write
// produces it.
const legacyFile = "name   : Bob\n" +
	"desc   :~\n" +
	"  A tall man.\n" +
	"  \n" +
	"  Very tall.\n" +
	"stats  :-\n" +
	"  hp: 10\n" +
	"  mv: 2.5\n" +
	"  -\n" +
	"items  :=\n" +
	"  key: sword\n" +
	"  -\n" +
	"  key: shield\n" +
	"  -\n" +
	"-\n"

func mustParse(t *testing.T, text string) *Set {
	t.Helper()
	s, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func mustWrite(t *testing.T, s *Set) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.String()
}

func TestParseLegacyFile(t *testing.T) {
	s := mustParse(t, legacyFile)

	if got, want := s.Keys(), []string{"name", "desc", "stats", "items"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if got := s.ReadString("name"); got != "Bob" {
		t.Errorf("name = %q", got)
	}
	if got := s.ReadString("desc"); got != "A tall man.\n\nVery tall." {
		t.Errorf("desc = %q", got)
	}
	stats := s.ReadSet("stats")
	if got := stats.ReadInt("hp"); got != 10 {
		t.Errorf("stats.hp = %d", got)
	}
	if got := stats.ReadDouble("mv"); got != 2.5 {
		t.Errorf("stats.mv = %v", got)
	}
	items := s.ReadList("items")
	if items.Len() != 2 {
		t.Fatalf("items.Len() = %d, want 2", items.Len())
	}
	if got := items.At(1).ReadString("key"); got != "shield" {
		t.Errorf("items[1].key = %q", got)
	}
	if s.Modified() {
		t.Error("freshly parsed set should not be modified")
	}
}

func TestLegacyFileRewritesIdentically(t *testing.T) {
	s := mustParse(t, legacyFile)
	if got := mustWrite(t, s); got != legacyFile {
		t.Errorf("rewrite differs:\n got:\n%s\nwant:\n%s", got, legacyFile)
	}
}

func TestWriteFormat(t *testing.T) {
	s := NewSet()
	s.StoreString("name", "Bob")
	s.StoreInt("level", 5)
	s.StoreBool("admin", true)
	stats := NewSet()
	stats.StoreInt("hp", 10)
	s.StoreSet("stats", stats)
	items := NewList()
	item := NewSet()
	item.StoreString("key", "sword")
	items.Add(item)
	s.StoreList("items", items)

	want := "admin: yes\n" +
		"items:=\n" +
		"  key: sword\n" +
		"  -\n" +
		"level: 5\n" +
		"name : Bob\n" +
		"stats:-\n" +
		"  hp: 10\n" +
		"  -\n" +
		"-\n"
	if got := mustWrite(t, s); got != want {
		t.Errorf("Write() =\n%s\nwant:\n%s", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	s := NewSet()
	s.Set("flag", false)
	s.Set("count", 42)
	s.Set("neg", -7)
	s.Set("ratio", 0.25)
	s.Set("whole", 3.0)
	s.Set("code", "42abc")
	s.Set("empty", "")
	s.Set("spaces", "  padded  ")
	s.Set("multi", "first\n  second\n")
	inner := NewSet()
	inner.Set("deep", "value")
	s.Set("inner", inner)
	l := NewList()
	for _, name := range []string{"a", "b"} {
		e := NewSet()
		e.Set("name", name)
		l.Add(e)
	}
	l.Add(NewSet())
	s.Set("list", l)

	out := mustParse(t, mustWrite(t, s))

	if !reflect.DeepEqual(out.Keys(), s.Keys()) {
		t.Errorf("keys = %v, want %v", out.Keys(), s.Keys())
	}
	want := map[string]any{
		"flag":   false,
		"count":  int64(42),
		"neg":    int64(-7),
		"ratio":  0.25,
		"whole":  3.0,
		"code":   "42abc",
		"empty":  "",
		"spaces": "  padded  ",
		"multi":  "first\n  second\n",
	}
	for k, v := range want {
		got, err := out.Get(k)
		if err != nil {
			t.Errorf("Get(%q): %v", k, err)
			continue
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("Get(%q) = %#v, want %#v", k, got, v)
		}
	}
	if got := out.ReadSet("inner").ReadString("deep"); got != "value" {
		t.Errorf("inner.deep = %q", got)
	}
	ol := out.ReadList("list")
	if ol.Len() != 3 {
		t.Fatalf("list len = %d, want 3", ol.Len())
	}
	if got := ol.At(1).ReadString("name"); got != "b" {
		t.Errorf("list[1].name = %q", got)
	}
	if ol.At(2).Len() != 0 {
		t.Errorf("list[2] should be empty, has %d keys", ol.At(2).Len())
	}
}

func TestTypeInference(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{true, true},
		{false, false},
		{42, int64(42)},
		{"42", int64(42)},
		{"42abc", "42abc"},
		{"1.5", 1.5},
		{"1.2.3", "1.2.3"},
		{"yes", true},
		{"-", "-"},
		{"99999999999999999999", "99999999999999999999"},
	}
	for _, tt := range tests {
		s := NewSet()
		if err := s.Set("v", tt.in); err != nil {
			t.Fatalf("Set(%#v): %v", tt.in, err)
		}
		got, err := mustParse(t, mustWrite(t, s)).Get("v")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("round trip of %#v = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestInvalidValueType(t *testing.T) {
	s := NewSet()
	if err := s.Set("k", struct{}{}); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Set(struct) error = %v, want ErrInvalidType", err)
	}
	if err := s.Set("k", nil); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Set(nil) error = %v, want ErrInvalidType", err)
	}
	for _, f := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if err := s.StoreDouble("k", f); !errors.Is(err, ErrInvalidType) {
			t.Errorf("StoreDouble(%v) error = %v, want ErrInvalidType", f, err)
		}
	}
	if err := s.Set("k", float32(math.Inf(1))); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Set(float32 Inf) error = %v", err)
	}
	if s.Contains("k") {
		t.Error("rejected value was stored")
	}
}

func TestEmptyKeyNeverWritten(t *testing.T) {
	s := NewSet()
	s.Set("", "v")
	s.Set("abc", "x")
	back := mustParse(t, mustWrite(t, s))
	if got := back.Keys(); len(got) != 1 || got[0] != "abc" {
		t.Errorf("Keys() = %v, want [abc]", got)
	}
}

func TestReservedKeys(t *testing.T) {
	root := mustParse(t, legacyFile)
	sets := []*Set{root, root.ReadSet("stats"), root.ReadList("items").At(0)}

	for depth, s := range sets {
		for _, key := range []string{ReadOrderKey, LongestKey} {
			if _, err := s.Get(key); !errors.Is(err, ErrReservedKey) {
				t.Errorf("depth %d: Get(%q) error = %v", depth, key, err)
			}
			if err := s.Set(key, "x"); !errors.Is(err, ErrReservedKey) {
				t.Errorf("depth %d: Set(%q) error = %v", depth, key, err)
			}
			if err := s.Delete(key); !errors.Is(err, ErrReservedKey) {
				t.Errorf("depth %d: Delete(%q) error = %v", depth, key, err)
			}
			if err := s.StoreSet(key, NewSet()); !errors.Is(err, ErrReservedKey) {
				t.Errorf("depth %d: StoreSet(%q) error = %v", depth, key, err)
			}
			if s.Contains(key) {
				t.Errorf("depth %d: Contains(%q) = true", depth, key)
			}
			if s.ReadString(key) != "" || s.ReadInt(key) != 0 || s.ReadBool(key) || s.ReadSet(key).Len() != 0 || s.ReadList(key).Len() != 0 {
				t.Errorf("depth %d: Read methods returned data for %q", depth, key)
			}
			for _, k := range s.Keys() {
				if IsReserved(k) {
					t.Errorf("depth %d: Keys() exposed %q", depth, k)
				}
			}
		}
	}
}

func TestInvalidKeys(t *testing.T) {
	s := NewSet()
	for _, key := range []string{"", "a:b", "line\nbreak", " lead", "trail "} {
		if err := s.Set(key, "x"); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestMissingKeyDefaults(t *testing.T) {
	s := NewSet()
	if s.ReadBool("x") || s.ReadInt("x") != 0 || s.ReadDouble("x") != 0 || s.ReadString("x") != "" {
		t.Error("missing keys should read as zero values")
	}
	if s.ReadSet("x").Len() != 0 || s.ReadList("x").Len() != 0 {
		t.Error("missing set/list should be empty")
	}
	if s.Contains("x") {
		t.Error("ReadSet/ReadList must not store anything")
	}
	if _, err := s.Get("x"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get missing error = %v", err)
	}
	if err := s.Delete("x"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Delete missing error = %v", err)
	}
}

func TestModifiedPropagates(t *testing.T) {
	root := mustParse(t, legacyFile)
	items := root.ReadList("items")
	leaf := items.At(0)

	leaf.StoreString("key", "dagger")

	if !leaf.Modified() || !items.Modified() || !root.Modified() {
		t.Error("modification should propagate to every ancestor")
	}
	if root.ReadSet("stats").Modified() {
		t.Error("sibling branch should not be marked")
	}

	root.ClearModified()
	if root.Modified() || items.Modified() || leaf.Modified() {
		t.Error("ClearModified should reset the whole tree")
	}

	root.ReadSet("stats").Delete("hp")
	if !root.Modified() {
		t.Error("delete should mark ancestors")
	}
}

func TestStoredChildrenAdoptParent(t *testing.T) {
	root := NewSet()
	child := NewSet()
	root.StoreSet("child", child)
	root.ClearModified()

	child.StoreInt("n", 1)
	if !root.Modified() {
		t.Error("storing a set should make the container its parent")
	}

	l := NewList()
	root.StoreList("list", l)
	root.ClearModified()
	e := NewSet()
	l.Add(e)
	e.ClearModified()
	root.ClearModified()
	e.StoreBool("b", true)
	if !root.Modified() {
		t.Error("set added to a stored list should propagate to the root")
	}
}

func TestCycleGuard(t *testing.T) {
	root := NewSet()
	l := NewList()
	root.StoreList("list", l)

	if err := l.Add(root); !errors.Is(err, ErrCycle) {
		t.Errorf("adding an ancestor to a list: error = %v, want ErrCycle", err)
	}

	child := NewSet()
	root.StoreSet("child", child)
	if err := child.StoreSet("loop", root); !errors.Is(err, ErrCycle) {
		t.Errorf("storing an ancestor: error = %v, want ErrCycle", err)
	}
	if err := root.StoreSet("self", root); !errors.Is(err, ErrCycle) {
		t.Errorf("storing a set in itself: error = %v, want ErrCycle", err)
	}
	if err := child.StoreList("loop", l); err != nil {
		t.Errorf("storing an unrelated list: %v", err)
	}
}

func TestOrderAfterMutation(t *testing.T) {
	s := mustParse(t, "zeta : 1\nalpha: 2\n-\n")
	s.Set("mid", 3)
	s.Set("beta", 4)
	s.Delete("zeta")

	want := []string{"alpha", "beta", "mid"}
	if got := s.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if got, wantText := mustWrite(t, s), "alpha: 2\nbeta : 4\nmid  : 3\n-\n"; got != wantText {
		t.Errorf("Write() = %q, want %q", got, wantText)
	}
}

func TestPaddingGrowsWithNewKeys(t *testing.T) {
	s := mustParse(t, "a: 1\n-\n")
	s.Set("longer", 2)
	want := "a     : 1\nlonger: 2\n-\n"
	if got := mustWrite(t, s); got != want {
		t.Errorf("Write() = %q, want %q", got, want)
	}
}

func TestInvalidUTF8Preserved(t *testing.T) {
	raw := "caf\xe9"
	s := mustParse(t, "name: "+raw+"\n-\n")

	got, err := s.Get("name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, ok := got.([]byte)
	if !ok || string(b) != raw {
		t.Errorf("Get = %#v, want []byte(%q)", got, raw)
	}
	if out := mustWrite(t, s); out != "name: "+raw+"\n-\n" {
		t.Errorf("bytes not preserved on write: %q", out)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"no colon", "name Bob\n-\n", 1},
		{"unknown marker", "name:?x\n-\n", 1},
		{"stray indentation", "name: Bob\n    deep: 1\n-\n", 2},
		{"data after end", "name: Bob\n-\nmore: 1\n", 3},
		{"nested no colon", "s:-\n  oops\n  -\n-\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.text))
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("Parse error = %v, want *FormatError", err)
			}
			if fe.Line != tt.line {
				t.Errorf("error line = %d, want %d", fe.Line, tt.line)
			}
		})
	}
}

func TestParseLenient(t *testing.T) {
	s := mustParse(t, "empty:\nname: Bob")
	if got := s.ReadString("empty"); got != "" {
		t.Errorf("empty = %q", got)
	}
	if got := s.ReadString("name"); got != "Bob" {
		t.Errorf("name = %q (missing terminator and newline should be accepted)", got)
	}
	if s := mustParse(t, ""); s.Len() != 0 {
		t.Errorf("empty input gave %d keys", s.Len())
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muddata")
	s := mustParse(t, legacyFile)
	if err := Save(path, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ReadSet("stats").ReadInt("hp") != 10 {
		t.Error("loaded data does not match")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestClone(t *testing.T) {
	s := mustParse(t, legacyFile)
	c := s.Clone()
	c.ReadSet("stats").StoreInt("hp", 99)

	if s.ReadSet("stats").ReadInt("hp") != 10 {
		t.Error("Clone should be deep")
	}
	if s.Modified() {
		t.Error("mutating a clone must not mark the original")
	}
	if got := mustWrite(t, s.Clone()); got != legacyFile {
		t.Errorf("clone lost order or padding:\n%s", got)
	}
}

func TestAllIteratesInOrder(t *testing.T) {
	s := mustParse(t, "b: 2\na: yes\n-\n")
	var keys []string
	var vals []any
	for k, v := range s.All() {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	if !reflect.DeepEqual(keys, []string{"b", "a"}) {
		t.Errorf("keys = %v", keys)
	}
	if !reflect.DeepEqual(vals, []any{int64(2), true}) {
		t.Errorf("vals = %v", vals)
	}
}
