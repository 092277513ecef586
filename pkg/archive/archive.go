// Package archive writes, lists, prunes and restores .tar.gz snapshots of
// the world data. Every archive ends with a manifest.json that records a
// SHA-256 per file.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const manifestName = "manifest.json"

// Archive member names.
const (
	worldPrefix = "data/world"
	boltName    = "data/world.bolt"
	sqlName     = "data/world.sqldb"
	confPrefix  = "conf"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	MudName   string               `json:"mud_name"`
	Engine    string               `json:"storage_engine"`
	Entities  map[string]int       `json:"entities,omitempty"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "world", "bolt", "sql", "conf"
}

// Params holds the inputs for Create. Empty fields are skipped.
type Params struct {
	WorldDir          string                      // file store directory
	BoltSnapshotFunc  func(destPath string) error // writes a consistent bolt copy
	SQLPath           string
	SQLCheckpointFunc func() error // flushes the WAL before the copy
	ConfPaths         []string     // settings files
	ArchiveDir        string
	MudName           string
	Engine            string
	Entities          map[string]int
	Now               func() time.Time
}

// Create writes a new archive into p.ArchiveDir and returns its path.
func Create(p Params) (string, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if err := os.MkdirAll(p.ArchiveDir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.ArchiveDir, err)
	}

	stamp := now()
	outFile, archivePath, err := createUnique(p.ArchiveDir, stamp)
	if err != nil {
		return "", err
	}
	ok := false
	defer func() {
		if !ok {
			outFile.Close()
			os.Remove(archivePath)
		}
	}()

	tmpDir, err := os.MkdirTemp("", "nakedsun-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	manifest := Manifest{
		Version:   1,
		Server:    "nakedsun",
		Timestamp: stamp.UTC().Format(time.RFC3339),
		MudName:   p.MudName,
		Engine:    p.Engine,
		Entities:  p.Entities,
		Files:     make(map[string]FileEntry),
	}

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if p.WorldDir != "" {
		if info, err := os.Stat(p.WorldDir); err == nil && info.IsDir() {
			entries, err := addDirToTar(tw, p.WorldDir, worldPrefix)
			if err != nil {
				return "", err
			}
			for k, v := range entries {
				v.Type = "world"
				manifest.Files[k] = v
			}
		}
	}

	if p.BoltSnapshotFunc != nil {
		staged := filepath.Join(tmpDir, "world.bolt")
		if err := p.BoltSnapshotFunc(staged); err != nil {
			return "", fmt.Errorf("archive: bolt snapshot: %w", err)
		}
		entry, err := addFileToTar(tw, staged, boltName)
		if err != nil {
			return "", err
		}
		entry.Type = "bolt"
		manifest.Files[boltName] = entry
	}

	if p.SQLPath != "" {
		if p.SQLCheckpointFunc != nil {
			if err := p.SQLCheckpointFunc(); err != nil {
				return "", fmt.Errorf("archive: sql checkpoint: %w", err)
			}
		}
		entry, err := addFileToTar(tw, p.SQLPath, sqlName)
		if err != nil {
			return "", err
		}
		entry.Type = "sql"
		manifest.Files[sqlName] = entry
	}

	for _, conf := range p.ConfPaths {
		if _, err := os.Stat(conf); err != nil {
			continue
		}
		name := confPrefix + "/" + filepath.Base(conf)
		entry, err := addFileToTar(tw, conf, name)
		if err != nil {
			return "", err
		}
		entry.Type = "conf"
		manifest.Files[name] = entry
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: stamp,
	}); err != nil {
		return "", fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return "", fmt.Errorf("archive: write manifest: %w", err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("archive: close gzip: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return "", fmt.Errorf("archive: close %s: %w", archivePath, err)
	}
	ok = true
	return archivePath, nil
}

// createUnique opens archive-<stamp>.tar.gz, adding a counter when an
// archive from the same second already exists.
func createUnique(dir string, stamp time.Time) (*os.File, string, error) {
	base := "archive-" + stamp.Format("20060102-150405")
	for i := 0; i < 100; i++ {
		name := base + ".tar.gz"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.tar.gz", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("archive: create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("archive: too many archives named %s", base)
}

// addFileToTar adds one file under archName, hashing it as it is written.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}

	archName = strings.ReplaceAll(archName, "\\", "/")
	if err := tw.WriteHeader(&tar.Header{
		Name:    archName,
		Size:    info.Size(),
		Mode:    0o644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: written}, nil
}

// addDirToTar adds every regular file below srcDir. Temporary files left
// by an interrupted save are skipped.
func addDirToTar(tw *tar.Writer, srcDir, archPrefix string) (map[string]FileEntry, error) {
	entries := make(map[string]FileEntry)
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		archName := archPrefix + "/" + filepath.ToSlash(rel)
		entry, err := addFileToTar(tw, path, archName)
		if err != nil {
			return err
		}
		entries[archName] = entry
		return nil
	})
	return entries, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// fileSum returns the hex SHA-256 and size of a file.
func fileSum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
