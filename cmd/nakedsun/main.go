package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/crystal-mush/nakedsun/pkg/archive"
	"github.com/crystal-mush/nakedsun/pkg/hooks"
	"github.com/crystal-mush/nakedsun/pkg/server"
	"github.com/crystal-mush/nakedsun/pkg/settings"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	dataDir := flag.String("data", envDefault("NAKEDSUN_DATA", "lib"), "Directory holding config.yaml or muddata and the world (env: NAKEDSUN_DATA)")
	engine := flag.String("engine", envDefault("NAKEDSUN_ENGINE", ""), "Storage engine override: file, bolt or sqlite (env: NAKEDSUN_ENGINE)")
	metricsAddr := flag.String("metrics", envDefault("NAKEDSUN_METRICS", ""), "Address for the Prometheus /metrics endpoint, overrides config (env: NAKEDSUN_METRICS)")
	restoreArchive := flag.String("restore", envDefault("NAKEDSUN_RESTORE", ""), "Restore from archive before boot (env: NAKEDSUN_RESTORE)")
	listArchives := flag.Bool("archives", false, "List archives and exit")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: nakedsun [-data <dir>] [-engine file|bolt|sqlite] [-metrics :9100]")
		fmt.Fprintln(os.Stderr, "       nakedsun -data <dir> -restore <archive.tar.gz>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Environment variables (used as defaults when flags are not set):")
		fmt.Fprintln(os.Stderr, "  NAKEDSUN_DATA     Data directory")
		fmt.Fprintln(os.Stderr, "  NAKEDSUN_ENGINE   Storage engine override")
		fmt.Fprintln(os.Stderr, "  NAKEDSUN_METRICS  Metrics listen address")
		fmt.Fprintln(os.Stderr, "  NAKEDSUN_RESTORE  Path to archive .tar.gz for pre-boot restore")
		fmt.Fprintln(os.Stderr, "")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Printf("Welcome to %s", server.VersionString())

	if *restoreArchive != "" {
		log.Printf("Restoring from archive: %s", *restoreArchive)
		result, err := archive.Restore(archive.RestoreParams{
			ArchivePath: *restoreArchive,
			WorldDest:   filepath.Join(*dataDir, "world"),
			BoltDest:    filepath.Join(*dataDir, "world.bolt"),
			SQLDest:     filepath.Join(*dataDir, "world.sqldb"),
			ConfDest:    *dataDir,
			Stdin:       os.Stdin,
			Stdout:      os.Stdout,
		})
		if err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		log.Printf("Restore complete: %d files restored", result.FilesRestored)
		for _, w := range result.Warnings {
			log.Printf("Restore warning: %s", w)
		}
	}

	srv, err := server.New(server.Config{DataDir: *dataDir})
	if err != nil {
		log.Fatalf("Error loading settings: %v", err)
	}
	log.Printf("Loaded settings from %s (%s)", srv.Conf.Path(), srv.Conf.Source())

	if *listArchives {
		dir := srv.Conf.String(settings.KeyArchiveDir)
		if dir == "" {
			dir = filepath.Join(*dataDir, "backups")
		}
		list, err := archive.List(dir)
		if err != nil {
			log.Fatalf("Error listing archives: %v", err)
		}
		for _, a := range list {
			fmt.Printf("%-36s %10d  %s  %s  %d entities\n", a.Filename, a.Size, a.Timestamp, a.Engine, a.Entities)
		}
		return
	}

	if *engine != "" {
		srv.Conf.Set(settings.KeyStorageEngine, *engine, false)
	}
	if err := srv.Open(); err != nil {
		log.Fatalf("Error opening store: %v", err)
	}
	n, err := srv.LoadWorld()
	if err != nil {
		log.Fatalf("Error loading world: %v", err)
	}
	log.Printf("World loaded: %d entities", n)

	addr := srv.Conf.String(settings.KeyMetricsAddr)
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	var metricsSrv *http.Server
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.Metrics.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("WARNING: metrics server: %v", err)
			}
		}()
		log.Printf("Metrics listening on %s", addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			log.Printf("SIGHUP received, copyover")
			srv.RequestCopyover()
		}
	}()

	log.Printf("Starting %s, pulse rate %d/s", srv.Conf.String(settings.KeyMudName), srv.Conf.Int(settings.KeyPulsesPerSecond))
	code := 0
	if err := srv.Run(ctx); err != nil {
		var exit *hooks.ExitError
		if errors.As(err, &exit) {
			code = exit.Code
			log.Printf("Exit requested (code %d)", code)
		} else {
			log.Printf("Server error: %v", err)
			code = 1
		}
	}

	if metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutCtx)
		cancel()
	}
	if err := srv.Shutdown(); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
		if code == 0 {
			code = 1
		}
	}
	log.Printf("Shutdown complete")
	os.Exit(code)
}
