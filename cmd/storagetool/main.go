package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crystal-mush/nakedsun/pkg/boltstore"
	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/server"
	"github.com/crystal-mush/nakedsun/pkg/settings"
	"github.com/crystal-mush/nakedsun/pkg/sqlstore"
	"github.com/crystal-mush/nakedsun/pkg/storage"
	"github.com/crystal-mush/nakedsun/pkg/validate"
	"github.com/crystal-mush/nakedsun/pkg/world"
)

func main() {
	check := flag.String("check", "", "Parse a storage file and report format errors")
	dump := flag.String("dump", "", "Print the tree of a storage file")
	rewrite := flag.String("rewrite", "", "Load and save a storage file, normalizing padding")
	importDir := flag.String("import", "", "File store directory to copy into -engine/-out")
	engine := flag.String("engine", "bolt", "Target engine for -import: bolt or sqlite")
	out := flag.String("out", "", "Target database path for -import")
	dataDir := flag.String("data", "", "Data directory to summarize and validate")
	fix := flag.Bool("fix", false, "With -data, apply all fixable findings and save")
	asJSON := flag.Bool("json", false, "With -data, print the validation report as JSON")
	flag.Parse()

	if *check == "" && *dump == "" && *rewrite == "" && *importDir == "" && *dataDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: storagetool [options]")
		fmt.Fprintln(os.Stderr, "  -check <file>      Report format errors")
		fmt.Fprintln(os.Stderr, "  -dump <file>       Print the tree")
		fmt.Fprintln(os.Stderr, "  -rewrite <file>    Normalize padding in place")
		fmt.Fprintln(os.Stderr, "  -import <dir> -engine bolt|sqlite -out <path>")
		fmt.Fprintln(os.Stderr, "                     Copy a file store into a database")
		fmt.Fprintln(os.Stderr, "  -data <dir> [-fix] [-json]")
		fmt.Fprintln(os.Stderr, "                     Summarize and validate a world")
		os.Exit(1)
	}

	failed := false
	if *check != "" {
		if err := runCheck(os.Stdout, *check); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			failed = true
		}
	}
	if *dump != "" {
		set, err := storage.Load(*dump)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		printTree(os.Stdout, set, 0)
	}
	if *rewrite != "" {
		changed, err := runRewrite(*rewrite)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		if changed {
			fmt.Printf("Rewrote %s\n", *rewrite)
		} else {
			fmt.Printf("%s already normalized\n", *rewrite)
		}
	}
	if *importDir != "" {
		n, err := runImport(*importDir, *engine, *out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Imported %d documents into %s %s\n", n, *engine, *out)
	}
	if *dataDir != "" {
		findings, err := runValidate(os.Stdout, *dataDir, *fix, *asJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		if findings > 0 && !*fix {
			failed = true
		}
	}
	if failed {
		os.Exit(2)
	}
}

func runCheck(w io.Writer, path string) error {
	start := time.Now()
	set, err := storage.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: OK, %d top-level keys, %d values, parsed in %v\n",
		path, set.Len(), countValues(set), time.Since(start))
	return nil
}

func countValues(s *storage.Set) int {
	n := 0
	for _, v := range s.All() {
		switch v := v.(type) {
		case *storage.Set:
			n += countValues(v)
		case *storage.List:
			for _, child := range v.Sets() {
				n += countValues(child)
			}
		default:
			n++
		}
	}
	return n
}

func printTree(w io.Writer, s *storage.Set, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, key := range s.Keys() {
		v, _ := s.Get(key)
		switch v := v.(type) {
		case *storage.Set:
			fmt.Fprintf(w, "%s%s: set (%d keys)\n", indent, key, v.Len())
			printTree(w, v, depth+1)
		case *storage.List:
			fmt.Fprintf(w, "%s%s: list (%d sets)\n", indent, key, v.Len())
			for i, child := range v.Sets() {
				fmt.Fprintf(w, "%s  [%d]\n", indent, i)
				printTree(w, child, depth+2)
			}
		case string:
			fmt.Fprintf(w, "%s%s: string %q\n", indent, key, truncate(v, 60))
		case []byte:
			fmt.Fprintf(w, "%s%s: bytes (%d, not UTF-8)\n", indent, key, len(v))
		default:
			fmt.Fprintf(w, "%s%s: %T %v\n", indent, key, v, v)
		}
	}
}

// runRewrite saves path back through the writer and reports whether the
// bytes changed.
func runRewrite(path string) (bool, error) {
	before, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	set, err := storage.Parse(bytes.NewReader(before))
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := storage.Write(&buf, set); err != nil {
		return false, err
	}
	if bytes.Equal(before, buf.Bytes()) {
		return false, nil
	}
	return true, storage.Save(path, set)
}

func runImport(dir, engine, out string) (int, error) {
	if out == "" {
		return 0, errors.New("-out is required with -import")
	}
	src, err := persist.OpenFileStore(dir)
	if err != nil {
		return 0, err
	}
	var dst persist.Store
	switch engine {
	case server.EngineBolt:
		b, err := boltstore.Open(out)
		if err != nil {
			return 0, err
		}
		dst = b
	case server.EngineSQLite:
		q, err := sqlstore.Open(out, 30*time.Second)
		if err != nil {
			return 0, err
		}
		dst = q
	default:
		return 0, fmt.Errorf("unknown engine %q", engine)
	}
	n, err := persist.Copy(dst, src, world.Saved...)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func runValidate(w io.Writer, dir string, fix, asJSON bool) (int, error) {
	srv, err := server.New(server.Config{
		DataDir: dir,
		Logger:  log.New(os.Stderr, "", log.LstdFlags),
	})
	if err != nil {
		return 0, err
	}
	if err := srv.Open(); err != nil {
		return 0, err
	}
	if _, err := srv.LoadWorld(); err != nil {
		srv.Store().Close()
		return 0, err
	}

	if !asJSON {
		printSummary(w, srv)
	}
	v := validate.New(srv.World, srv.Conf.String(settings.KeyStartRoom))
	findings := v.Run()
	if fix {
		for _, cat := range []validate.Category{validate.CatIntegrityError, validate.CatIntegrityWarn} {
			n, err := v.ApplyAll(cat)
			if err != nil {
				srv.Store().Close()
				return len(findings), err
			}
			if n > 0 && !asJSON {
				fmt.Fprintf(w, "Fixed %d %s findings\n", n, cat)
			}
		}
	}

	report := validate.GenerateReport(v)
	if asJSON {
		if err := report.WriteJSON(w); err != nil {
			return len(findings), err
		}
	} else {
		fmt.Fprintln(w)
		report.WriteText(w)
	}

	if fix {
		// Shutdown saves the fixed world.
		return len(findings), srv.Shutdown()
	}
	return len(findings), srv.Store().Close()
}

func printSummary(w io.Writer, srv *server.Server) {
	fmt.Fprintln(w, "=== WORLD SUMMARY ===")
	fmt.Fprintf(w, "Settings:       %s (%s)\n", srv.Conf.Path(), srv.Conf.Source())
	fmt.Fprintf(w, "Engine:         %s\n", srv.Conf.String(settings.KeyStorageEngine))
	fmt.Fprintf(w, "Start room:     %s\n", srv.Conf.String(settings.KeyStartRoom))

	counts := srv.World.Counts()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Fprintln(w, "\n--- Entities by Kind ---")
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-10s %d\n", k, counts[k])
		if classes := srv.Registry.Classes(k); len(classes) > 0 {
			fmt.Fprintf(w, "  %-10s auxiliary: %s\n", "", strings.Join(classes, ", "))
		}
	}
	fmt.Fprintf(w, "\nData directory: %s\n", filepath.Dir(srv.Conf.Path()))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
