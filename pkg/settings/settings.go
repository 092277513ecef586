// Package settings loads and saves the MUD settings. Settings come from a
// YAML file (config.yaml, or config for JSON files from older installs) or
// from a NakedMud muddata storage file.
package settings

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/nakedsun/pkg/hooks"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// ErrNoConfig is returned by Load when the directory has no settings file.
var ErrNoConfig = errors.New("settings: unable to find a MUD configuration file")

// Source is the format settings were loaded from and are saved back in.
type Source int

const (
	SourceYAML Source = iota
	SourceMuddata
)

func (s Source) String() string {
	switch s {
	case SourceYAML:
		return "yaml"
	case SourceMuddata:
		return "muddata"
	default:
		return "unknown"
	}
}

// Candidate file names, in lookup order.
var (
	yamlNames   = []string{"config.yaml", "config.yml", "config"}
	muddataName = "muddata"
)

// Well-known keys.
const (
	KeyPulsesPerSecond    = "pulses_per_second"
	KeyStartRoom          = "start_room"
	KeyMainAddr           = "main_addr"
	KeyStorageEngine      = "storage_engine"
	KeyNakedMudCompatible = "nakedmud_compatible"
	KeyMetricsAddr        = "metrics_addr"
	KeyArchiveDir         = "archive_dir"
	KeyArchiveRetain      = "archive_retain"
	KeyArchiveInterval    = "archive_interval" // minutes
	KeyAutosaveMinutes    = "autosave_minutes"
	KeyMudName            = "mud_name"
)

// Settings is the loaded key/value table.
type Settings struct {
	mu     sync.RWMutex
	values map[string]any
	source Source
	path   string
	hooks  *hooks.Dispatcher
	logger *log.Logger
}

// Option configures Load.
type Option func(*Settings)

// WithHooks runs setting_changed on d.
func WithHooks(d *hooks.Dispatcher) Option {
	return func(s *Settings) { s.hooks = d }
}

// WithLogger sends warnings to l.
func WithLogger(l *log.Logger) Option {
	return func(s *Settings) { s.logger = l }
}

// Load reads the settings file in dir and fills in defaults. If defaults
// were added the file is saved.
func Load(dir string, opts ...Option) (*Settings, error) {
	s := &Settings{values: make(map[string]any)}
	for _, opt := range opts {
		opt(s)
	}

	found := false
	for _, name := range yamlNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			s.source, s.path, found = SourceYAML, p, true
			break
		}
	}
	if !found {
		p := filepath.Join(dir, muddataName)
		if _, err := os.Stat(p); err == nil {
			s.source, s.path, found = SourceMuddata, p, true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w in %s", ErrNoConfig, dir)
	}

	values, err := s.read()
	if err != nil {
		return nil, err
	}
	s.values = values
	if s.source == SourceMuddata {
		s.logf("settings: WARNING: using default configuration for a NakedMud library")
		s.values[KeyStorageEngine] = "nakedmud"
		s.values[KeyNakedMudCompatible] = true
	}

	if s.applyDefaults() {
		if err := s.Save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Settings) applyDefaults() bool {
	defaults := []struct {
		key string
		val any
	}{
		{KeyPulsesPerSecond, 10},
		{KeyStartRoom, "house@examples"},
		{KeyMainAddr, ":4000"},
		{KeyStorageEngine, "file"},
	}
	if s.Bool(KeyNakedMudCompatible) {
		defaults[1].val = "tavern_entrance@examples"
	}
	changed := false
	for _, d := range defaults {
		if v, ok := s.Get(d.key); ok && !isZero(v) {
			continue
		}
		s.Set(d.key, d.val, false)
		changed = true
	}
	return changed
}

func isZero(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

// read parses the settings file.
func (s *Settings) read() (map[string]any, error) {
	values := make(map[string]any)
	switch s.source {
	case SourceMuddata:
		set, err := storage.Load(s.path)
		if err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
		for key, val := range set.All() {
			switch val.(type) {
			case *storage.Set, *storage.List:
				s.logf("settings: WARNING: ignoring nested value %q in %s", key, s.path)
				continue
			}
			values[key] = val
		}
	default:
		data, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("settings: read %s: %w", s.path, err)
		}
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("settings: parse %s: %w", s.path, err)
		}
		if values == nil {
			values = make(map[string]any)
		}
	}
	return values, nil
}

// Path returns the settings file.
func (s *Settings) Path() string { return s.path }

// Source returns the settings file format.
func (s *Settings) Source() Source { return s.source }

// Get returns the value of key.
func (s *Settings) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is set.
func (s *Settings) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns the sorted setting names.
func (s *Settings) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns key formatted as text, "" if unset.
func (s *Settings) String(key string) string {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return fmt.Sprint(v)
}

// Int returns key as an integer, 0 if unset or not a number.
func (s *Settings) Int(key string) int64 {
	v, _ := s.Get(key)
	switch v := v.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Bool returns key as a boolean.
func (s *Settings) Bool(key string) bool {
	v, _ := s.Get(key)
	switch v := v.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b || v == "yes"
	case int, int64, float64:
		return s.Int(key) != 0
	}
	return false
}

// Set assigns key, runs setting_changed with the key and value, and saves
// the file if autosave is set.
func (s *Settings) Set(key string, val any, autosave bool) error {
	s.mu.Lock()
	s.values[key] = val
	s.mu.Unlock()

	s.changed(key, val)
	if autosave {
		return s.Save()
	}
	return nil
}

func (s *Settings) changed(key string, val any) {
	if s.hooks == nil {
		return
	}
	if err := s.hooks.Run(hooks.SettingChanged, key, val); err != nil {
		s.logf("settings: setting_changed %s: %v", key, err)
	}
}

// Save writes the settings back in the format they were loaded from.
func (s *Settings) Save() error {
	s.mu.RLock()
	snapshot := make(map[string]any, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if s.source == SourceMuddata {
		set := storage.NewSet()
		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := set.Set(k, snapshot[k]); err != nil {
				s.logf("settings: WARNING: couldn't save MUD setting %q with value %v: %v", k, snapshot[k], err)
			}
		}
		if err := storage.Save(s.path, set); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		return nil
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("settings: rename %s: %w", s.path, err)
	}
	return nil
}

// Reload re-reads the file and runs setting_changed for every key whose
// value differs. Keys removed from the file keep their current value. It
// returns the changed keys, sorted.
func (s *Settings) Reload() ([]string, error) {
	values, err := s.read()
	if err != nil {
		return nil, err
	}
	var changed []string
	s.mu.Lock()
	for k, v := range values {
		if cur, ok := s.values[k]; !ok || !reflect.DeepEqual(cur, v) {
			s.values[k] = v
			changed = append(changed, k)
		}
	}
	s.mu.Unlock()

	sort.Strings(changed)
	for _, k := range changed {
		v, _ := s.Get(k)
		s.changed(k, v)
	}
	return changed, nil
}

func (s *Settings) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
