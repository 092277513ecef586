// Package server hosts the game: it loads the settings, wires the hook
// dispatcher, auxiliary registry, world and event scheduler together, opens
// the configured store and drives the pulse loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crystal-mush/nakedsun/pkg/archive"
	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/boltstore"
	"github.com/crystal-mush/nakedsun/pkg/dynvars"
	"github.com/crystal-mush/nakedsun/pkg/events"
	"github.com/crystal-mush/nakedsun/pkg/hooks"
	"github.com/crystal-mush/nakedsun/pkg/metrics"
	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/settings"
	"github.com/crystal-mush/nakedsun/pkg/sqlstore"
	"github.com/crystal-mush/nakedsun/pkg/world"
)

// Storage engines accepted in the storage_engine setting.
const (
	EngineFile     = "file"
	EngineNakedMud = "nakedmud" // file layout, used for muddata installs
	EngineBolt     = "bolt"
	EngineSQLite   = "sqlite"
)

// Config holds what the server needs before settings are read.
type Config struct {
	DataDir  string               // holds the settings file and world data
	Logger   *log.Logger          // nil uses the log package default
	Registry *prometheus.Registry // nil creates one
}

// Server is a running game.
type Server struct {
	Conf     *settings.Settings
	Hooks    *hooks.Dispatcher
	Registry *auxiliary.Registry
	World    *world.World
	Events   *events.Scheduler
	Metrics  *metrics.Metrics

	dataDir string
	logger  *log.Logger
	engine  string
	store   persist.Store // counted by Metrics
	fileDir string
	bolt    *boltstore.Store
	sql     *sqlstore.Store

	pulseReset chan struct{}
	copyover   chan struct{}
}

// New loads the settings in cfg.DataDir and builds the game core. The store
// is opened by Open.
func New(cfg Config) (*Server, error) {
	s := &Server{
		dataDir:    cfg.DataDir,
		logger:     cfg.Logger,
		pulseReset: make(chan struct{}, 1),
		copyover:   make(chan struct{}, 1),
	}

	s.Metrics = metrics.New(cfg.Registry, metrics.Sources{
		Entities:      func() map[string]int { return s.World.Counts() },
		PendingEvents: func() int { return s.Events.Pending() },
		Hooks:         func() int { return len(s.Hooks.Names()) },
	}, time.Now())

	hookOpts := []hooks.DispatcherOption{hooks.WithObserver(s.Metrics)}
	regOpts := []auxiliary.Option{auxiliary.WithObserver(s.Metrics)}
	confOpts := []settings.Option{}
	evOpts := []events.Option{}
	if s.logger != nil {
		hookOpts = append(hookOpts, hooks.WithLogger(s.logger))
		regOpts = append(regOpts, auxiliary.WithLogger(s.logger))
		confOpts = append(confOpts, settings.WithLogger(s.logger))
		evOpts = append(evOpts, events.WithLogger(s.logger))
	}
	s.Hooks = hooks.New(hookOpts...)
	regOpts = append(regOpts, auxiliary.WithHooks(s.Hooks))
	confOpts = append(confOpts, settings.WithHooks(s.Hooks))

	conf, err := settings.Load(cfg.DataDir, confOpts...)
	if err != nil {
		return nil, err
	}
	s.Conf = conf

	s.Registry = auxiliary.NewRegistry(regOpts...)
	if err := world.Register(s.Registry); err != nil {
		return nil, err
	}
	if err := dynvars.Install(s.Registry); err != nil {
		return nil, err
	}
	s.World = world.New(s.Registry, s.Hooks)
	s.Events = events.New(evOpts...)

	s.Hooks.Register(world.HookDestroyed, func(c *hooks.Call) error {
		if n := s.Events.Interrupt(c.Arg(0)); n > 0 {
			s.logf("server: interrupted %d events for %v", n, c.Arg(0))
		}
		return nil
	}, hooks.WithName("server.interruptEvents"))
	s.Hooks.Register(hooks.SettingChanged, func(c *hooks.Call) error {
		if c.Arg(0) == settings.KeyPulsesPerSecond {
			select {
			case s.pulseReset <- struct{}{}:
			default:
			}
		}
		return nil
	}, hooks.WithName("server.pulseRate"))

	return s, nil
}

// Open opens the store named by the storage_engine setting.
func (s *Server) Open() error {
	s.engine = s.Conf.String(settings.KeyStorageEngine)
	var st persist.Store
	switch s.engine {
	case EngineFile, EngineNakedMud:
		s.fileDir = filepath.Join(s.dataDir, "world")
		fs, err := persist.OpenFileStore(s.fileDir)
		if err != nil {
			return err
		}
		st = fs
	case EngineBolt:
		b, err := boltstore.Open(filepath.Join(s.dataDir, "world.bolt"))
		if err != nil {
			return err
		}
		s.bolt, st = b, b
	case EngineSQLite:
		q, err := sqlstore.Open(filepath.Join(s.dataDir, "world.sqldb"), 5*time.Second)
		if err != nil {
			return err
		}
		s.sql, st = q, q
	default:
		return fmt.Errorf("server: unknown storage engine %q", s.engine)
	}
	s.store = s.Metrics.Store(st)
	s.logf("server: storage engine %s", s.engine)
	return nil
}

// Store returns the open store.
func (s *Server) Store() persist.Store { return s.store }

// LoadWorld loads every saved entity and makes sure the start room exists.
func (s *Server) LoadWorld() (int, error) {
	if s.store == nil {
		return 0, errors.New("server: store not open")
	}
	total := 0
	for _, kind := range world.Saved {
		n, err := persist.LoadAll(s.store, s.World, kind, func() world.Entity { return world.Blank(kind) })
		total += n
		if err != nil {
			return total, fmt.Errorf("server: load %s: %w", kind, err)
		}
		if n > 0 {
			s.logf("server: loaded %d %s", n, kind)
		}
	}

	start := s.Conf.String(settings.KeyStartRoom)
	if _, ok := s.World.Get(world.TagRoom, start); !ok && start != "" {
		s.logf("server: WARNING: start room %s not found, creating it", start)
		if err := s.World.Add(world.NewRoom(start, "An Empty Room"), nil); err != nil {
			return total, err
		}
	}
	return total, nil
}

// SaveWorld writes every saved kind to the store.
func (s *Server) SaveWorld() (int, error) {
	if s.store == nil {
		return 0, errors.New("server: store not open")
	}
	total := 0
	for _, kind := range world.Saved {
		n, err := persist.SaveAll(s.store, s.World, kind)
		total += n
		if err != nil {
			return total, fmt.Errorf("server: save %s: %w", kind, err)
		}
	}
	return total, nil
}

// Pulse runs the pulse hook and then any events that are due. An exit
// requested by a pulse handler is returned.
func (s *Server) Pulse(now time.Time) error {
	var exit *hooks.ExitError
	if err := s.Hooks.Run(hooks.Pulse); errors.As(err, &exit) {
		return exit
	}
	s.Events.Pulse(now)
	return nil
}

func (s *Server) pulseInterval() time.Duration {
	pps := s.Conf.Int(settings.KeyPulsesPerSecond)
	if pps <= 0 {
		pps = 10
	}
	return time.Second / time.Duration(pps)
}

// every returns a ticker channel for n minutes and its stop function. A
// non-positive n gives a nil channel, which never fires.
func every(n int64) (<-chan time.Time, func()) {
	if n <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(time.Duration(n) * time.Minute)
	return t.C, t.Stop
}

// RequestCopyover asks Run to run the copyover hook at its next turn.
func (s *Server) RequestCopyover() {
	select {
	case s.copyover <- struct{}{}:
	default:
	}
}

// Run drives the pulse loop until ctx is done or a hook asks to exit. The
// settings file is reloaded when it changes on disk. Autosave and archiving
// run when their intervals are set.
func (s *Server) Run(ctx context.Context) error {
	changes, err := s.Conf.Watch(ctx)
	if err != nil {
		s.logf("server: WARNING: could not watch settings: %v", err)
	}

	ticker := time.NewTicker(s.pulseInterval())
	defer ticker.Stop()
	autosave, stopAutosave := every(s.Conf.Int(settings.KeyAutosaveMinutes))
	defer stopAutosave()
	archiveC, stopArchive := every(s.Conf.Int(settings.KeyArchiveInterval))
	defer stopArchive()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := s.Pulse(now); err != nil {
				return err
			}
		case <-s.pulseReset:
			ticker.Reset(s.pulseInterval())
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if keys, err := s.Conf.Reload(); err != nil {
				s.logf("server: WARNING: settings reload: %v", err)
			} else if len(keys) > 0 {
				s.logf("server: settings changed: %v", keys)
			}
		case <-autosave:
			if n, err := s.SaveWorld(); err != nil {
				s.logf("server: ERROR: autosave: %v", err)
			} else {
				s.logf("server: autosaved %d entities", n)
			}
		case <-archiveC:
			if path, err := s.Archive(); err != nil {
				s.logf("server: ERROR: auto-archive failed: %v", err)
			} else {
				s.logf("server: auto-archive complete: %s", path)
			}
		case <-s.copyover:
			if err := s.Copyover(); err != nil {
				var exit *hooks.ExitError
				if errors.As(err, &exit) {
					return exit
				}
				s.logf("server: ERROR: copyover: %v", err)
			}
		}
	}
}

// Copyover runs the copyover hook and saves the world.
func (s *Server) Copyover() error {
	var exit *hooks.ExitError
	if err := s.Hooks.Run(hooks.Copyover); errors.As(err, &exit) {
		return exit
	}
	n, err := s.SaveWorld()
	if err != nil {
		return err
	}
	s.logf("server: copyover saved %d entities", n)
	return nil
}

// Archive writes an archive of the world data and settings, then prunes
// old archives down to archive_retain.
func (s *Server) Archive() (string, error) {
	dir := s.Conf.String(settings.KeyArchiveDir)
	if dir == "" {
		dir = filepath.Join(s.dataDir, "backups")
	}
	p := archive.Params{
		ArchiveDir: dir,
		ConfPaths:  []string{s.Conf.Path()},
		MudName:    s.Conf.String(settings.KeyMudName),
		Engine:     s.engine,
		Entities:   s.World.Counts(),
	}
	switch {
	case s.fileDir != "":
		p.WorldDir = s.fileDir
	case s.bolt != nil:
		p.BoltSnapshotFunc = s.bolt.Backup
	case s.sql != nil:
		p.SQLPath = s.sql.Path()
		p.SQLCheckpointFunc = s.sql.Checkpoint
	}
	path, err := archive.Create(p)
	if err != nil {
		return "", err
	}
	if retain := s.Conf.Int(settings.KeyArchiveRetain); retain > 0 {
		removed, err := archive.Prune(dir, int(retain))
		if err != nil {
			s.logf("server: WARNING: prune archives: %v", err)
		}
		for _, r := range removed {
			s.logf("server: pruned old archive %s", filepath.Base(r))
		}
	}
	return path, nil
}

// Shutdown runs the shutdown hook, saves the world and closes the store.
func (s *Server) Shutdown() error {
	if err := s.Hooks.Run(hooks.Shutdown); err != nil {
		s.logf("server: shutdown hook: %v", err)
	}
	var errs []error
	if s.store != nil {
		if n, err := s.SaveWorld(); err != nil {
			errs = append(errs, err)
		} else {
			s.logf("server: saved %d entities", n)
		}
		errs = append(errs, s.store.Close())
		s.store = nil
	}
	return errors.Join(errs...)
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
