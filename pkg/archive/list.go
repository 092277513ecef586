package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string
	Filename  string
	Size      int64
	Timestamp string // from the manifest, or the file mod time
	MudName   string
	Engine    string
	Entities  int // total across kinds
}

// List scans dir for .tar.gz files, newest first.
func List(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var archives []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		ai := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		}
		if m, err := ReadManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.MudName = m.MudName
			ai.Engine = m.Engine
			for _, n := range m.Entities {
				ai.Entities += n
			}
		}
		archives = append(archives, ai)
	}

	// RFC3339 in UTC sorts lexically.
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].Timestamp != archives[j].Timestamp {
			return archives[i].Timestamp > archives[j].Timestamp
		}
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// Prune deletes all but the newest retain archives in dir and returns the
// removed paths. A retain of zero or less keeps everything.
func Prune(dir string, retain int) ([]string, error) {
	if retain <= 0 {
		return nil, nil
	}
	archives, err := List(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, a := range archives[min(retain, len(archives)):] {
		if err := os.Remove(a.Path); err != nil {
			return removed, fmt.Errorf("archive: prune %s: %w", a.Filename, err)
		}
		removed = append(removed, a.Path)
	}
	return removed, nil
}

var errNoManifest = errors.New("archive: manifest.json not found")

// ReadManifest returns the manifest of the archive at path.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name != manifestName {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("archive: parse manifest: %w", err)
		}
		return &m, nil
	}
	return nil, errNoManifest
}
