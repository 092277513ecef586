package settings

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/nakedsun/pkg/hooks"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func quiet() Option { return WithLogger(log.New(&bytes.Buffer{}, "", 0)) }

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "mud_name: Crystal\nmain_addr: \":5000\"\n")

	s, err := Load(dir, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if s.Source() != SourceYAML || s.Path() != path {
		t.Errorf("source = %v %s", s.Source(), s.Path())
	}
	if got := s.String(KeyMainAddr); got != ":5000" {
		t.Errorf("main_addr = %q, want the configured value", got)
	}
	if got := s.Int(KeyPulsesPerSecond); got != 10 {
		t.Errorf("pulses_per_second = %d", got)
	}
	if got := s.String(KeyStartRoom); got != "house@examples" {
		t.Errorf("start_room = %q", got)
	}
	if got := s.String(KeyStorageEngine); got != "file" {
		t.Errorf("storage_engine = %q", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var saved map[string]any
	if err := yaml.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved["pulses_per_second"] != 10 || saved["mud_name"] != "Crystal" {
		t.Errorf("saved file = %v", saved)
	}
}

func TestLoadCompatibleStartRoom(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "nakedmud_compatible: true\n")
	s, err := Load(dir, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.String(KeyStartRoom); got != "tavern_entrance@examples" {
		t.Errorf("start_room = %q", got)
	}
}

func TestLoadJSONConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config"), `{"pulses_per_second": 4, "start_room": "void@limbo", "main_addr": ":4000", "storage_engine": "bolt"}`)
	s, err := Load(dir, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if s.Int(KeyPulsesPerSecond) != 4 || s.String(KeyStartRoom) != "void@limbo" || s.String(KeyStorageEngine) != "bolt" {
		t.Errorf("keys = %v", s.Keys())
	}
}

func TestLoadMuddata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "muddata")
	set := storage.NewSet()
	set.Set("mud_name", "Old Realm")
	set.Set("pulses_per_second", 8)
	if err := storage.Save(path, set); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	s, err := Load(dir, WithLogger(log.New(&buf, "", 0)))
	if err != nil {
		t.Fatal(err)
	}
	if s.Source() != SourceMuddata {
		t.Fatalf("source = %v", s.Source())
	}
	if !strings.Contains(buf.String(), "default configuration for a NakedMud library") {
		t.Errorf("log = %q", buf.String())
	}
	if !s.Bool(KeyNakedMudCompatible) || s.String(KeyStorageEngine) != "nakedmud" {
		t.Errorf("compat keys = %v %v", s.Bool(KeyNakedMudCompatible), s.String(KeyStorageEngine))
	}
	if got := s.String(KeyStartRoom); got != "tavern_entrance@examples" {
		t.Errorf("start_room = %q", got)
	}
	if got := s.Int(KeyPulsesPerSecond); got != 8 {
		t.Errorf("pulses_per_second = %d", got)
	}

	saved, err := storage.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ReadString("start_room") != "tavern_entrance@examples" || !saved.ReadBool("nakedmud_compatible") {
		t.Errorf("saved muddata keys = %v", saved.Keys())
	}
}

func TestNoConfig(t *testing.T) {
	if _, err := Load(t.TempDir(), quiet()); !errors.Is(err, ErrNoConfig) {
		t.Errorf("err = %v, want ErrNoConfig", err)
	}
}

func TestSetRunsHook(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "mud_name: Crystal\n")
	d := hooks.New()
	s, err := Load(dir, quiet(), WithHooks(d))
	if err != nil {
		t.Fatal(err)
	}

	var seen []any
	d.Register(hooks.SettingChanged, func(c *hooks.Call) error {
		seen = append(seen, c.Arg(0), c.Arg(1))
		return nil
	})
	if err := s.Set("mud_name", "Shard", true); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seen, []any{"mud_name", "Shard"}) {
		t.Errorf("hook args = %v", seen)
	}

	again, err := Load(dir, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if got := again.String("mud_name"); got != "Shard" {
		t.Errorf("autosaved mud_name = %q", got)
	}
}

func TestSaveMuddataWarnsOnNested(t *testing.T) {
	dir := t.TempDir()
	storage.Save(filepath.Join(dir, "muddata"), storage.NewSet())
	var buf bytes.Buffer
	s, err := Load(dir, WithLogger(log.New(&buf, "", 0)))
	if err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := s.Set("banned", map[string]any{"a": 1}, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !strings.Contains(buf.String(), `couldn't save MUD setting "banned"`) {
		t.Errorf("log = %q", buf.String())
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "mud_name: Crystal\npulses_per_second: 10\nstart_room: a@b\nmain_addr: \":4000\"\nstorage_engine: file\n")
	d := hooks.New()
	s, err := Load(dir, quiet(), WithHooks(d))
	if err != nil {
		t.Fatal(err)
	}
	var fired []string
	d.Register(hooks.SettingChanged, func(c *hooks.Call) error {
		fired = append(fired, c.Arg(0).(string))
		return nil
	})

	writeFile(t, path, "mud_name: Crystal\npulses_per_second: 20\nstart_room: a@b\nmain_addr: \":4000\"\nstorage_engine: file\nmotd: hi\n")
	changed, err := s.Reload()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"motd", "pulses_per_second"}
	if !reflect.DeepEqual(changed, want) || !reflect.DeepEqual(fired, want) {
		t.Errorf("changed = %v, fired = %v", changed, fired)
	}
	if s.Int(KeyPulsesPerSecond) != 20 {
		t.Errorf("pulses_per_second = %d", s.Int(KeyPulsesPerSecond))
	}

	changed, _ = s.Reload()
	if len(changed) != 0 {
		t.Errorf("second reload changed %v", changed)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "pulses_per_second: 10\nstart_room: a@b\nmain_addr: \":4000\"\nstorage_engine: file\n")
	s, err := Load(dir, quiet())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "unrelated.txt"), "x")
	writeFile(t, path, "pulses_per_second: 5\nstart_room: a@b\nmain_addr: \":4000\"\nstorage_engine: file\n")
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notice")
	}
	if _, err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if s.Int(KeyPulsesPerSecond) != 5 {
		t.Errorf("pulses_per_second = %d", s.Int(KeyPulsesPerSecond))
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}
