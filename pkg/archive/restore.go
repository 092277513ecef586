package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RestoreParams holds the inputs for Restore. Empty destinations skip that
// part of the archive.
type RestoreParams struct {
	ArchivePath string
	WorldDest   string // file store directory
	BoltDest    string
	SQLDest     string
	ConfDest    string // directory for settings files
	Stdin       io.Reader
	Stdout      io.Writer
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest      *Manifest
	FilesRestored int
	Warnings      []string
}

// Restore extracts an archive, checks every file against the manifest and
// copies the contents to their destinations. An existing world directory
// is moved aside to <dest>.pre-restore. Settings files that differ from
// the current ones are only replaced after asking on Stdin.
func Restore(p RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "nakedsun-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extract(p.ArchivePath, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("restore: %w", errNoManifest)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}
	result := &RestoreResult{Manifest: &manifest}

	for name, entry := range manifest.Files {
		ok, err := sumMatches(filepath.Join(tmpDir, filepath.FromSlash(name)), entry)
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("restore: checksum mismatch for %s, archive may be corrupt", name)
		}
	}

	worldSrc := filepath.Join(tmpDir, filepath.FromSlash(worldPrefix))
	if info, err := os.Stat(worldSrc); err == nil && info.IsDir() && p.WorldDest != "" {
		if _, err := os.Stat(p.WorldDest); err == nil {
			aside := p.WorldDest + ".pre-restore"
			os.RemoveAll(aside)
			if err := os.Rename(p.WorldDest, aside); err != nil {
				return nil, fmt.Errorf("restore: move aside %s: %w", p.WorldDest, err)
			}
			result.Warnings = append(result.Warnings, "previous world data moved to "+aside)
		}
		n, err := copyDir(worldSrc, p.WorldDest)
		if err != nil {
			return nil, fmt.Errorf("restore: copy world: %w", err)
		}
		result.FilesRestored += n
	}

	for _, single := range []struct{ name, dest string }{
		{boltName, p.BoltDest},
		{sqlName, p.SQLDest},
	} {
		src := filepath.Join(tmpDir, filepath.FromSlash(single.name))
		if _, err := os.Stat(src); err != nil || single.dest == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(single.dest), 0o755); err != nil {
			return nil, fmt.Errorf("restore: create dir for %s: %w", single.dest, err)
		}
		if err := copyFile(src, single.dest); err != nil {
			return nil, fmt.Errorf("restore: copy %s: %w", single.name, err)
		}
		result.FilesRestored++
	}

	confSrc := filepath.Join(tmpDir, confPrefix)
	if info, err := os.Stat(confSrc); err == nil && info.IsDir() && p.ConfDest != "" {
		entries, err := os.ReadDir(confSrc)
		if err != nil {
			return nil, fmt.Errorf("restore: read conf dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			src := filepath.Join(confSrc, entry.Name())
			dest := filepath.Join(p.ConfDest, entry.Name())
			action, err := promptConfigDiff(src, dest, entry.Name(), p.Stdin, p.Stdout)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("config prompt error for %s: %v", entry.Name(), err))
				continue
			}
			switch action {
			case 'U':
				if err := os.MkdirAll(p.ConfDest, 0o755); err != nil {
					return nil, fmt.Errorf("restore: create conf dir: %w", err)
				}
				if err := copyFile(src, dest); err != nil {
					return nil, fmt.Errorf("restore: copy conf %s: %w", entry.Name(), err)
				}
				result.FilesRestored++
			case 'K':
				result.Warnings = append(result.Warnings, "kept current config: "+entry.Name())
			}
		}
	}
	return result, nil
}

func extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func sumMatches(path string, want FileEntry) (bool, error) {
	sum, size, err := fileSum(path)
	if err != nil {
		return false, err
	}
	return sum == want.SHA256 && size == want.Size, nil
}

// promptConfigDiff returns 'U' (use archived), 'K' (keep current) or 'S'
// (identical, nothing to do).
func promptConfigDiff(src, dest, name string, stdin io.Reader, stdout io.Writer) (byte, error) {
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return 'U', nil
	}
	archived, err := os.ReadFile(src)
	if err != nil {
		return 0, err
	}
	current, err := os.ReadFile(dest)
	if err != nil {
		return 0, err
	}
	if bytes.Equal(archived, current) {
		return 'S', nil
	}
	if stdin == nil || stdout == nil {
		return 'K', nil
	}

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprintf(stdout, "\nConfig file %q differs from archive.\n", name)
		fmt.Fprintf(stdout, "[K]eep current  [U]se archived  [D]iff: ")
		if !scanner.Scan() {
			return 'K', nil
		}
		input := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if input == "" {
			continue
		}
		switch input[0] {
		case 'K', 'U':
			return input[0], nil
		case 'D':
			printLineDiff(string(current), string(archived), stdout)
		default:
			fmt.Fprintf(stdout, "Please enter K, U or D.\n")
		}
	}
}

// printLineDiff prints the lines that differ at the same position.
func printLineDiff(current, archived string, w io.Writer) {
	cur := strings.Split(current, "\n")
	arc := strings.Split(archived, "\n")
	fmt.Fprintf(w, "\n--- current\n+++ archived\n")
	for i := 0; i < max(len(cur), len(arc)); i++ {
		var c, a string
		if i < len(cur) {
			c = cur[i]
		}
		if i < len(arc) {
			a = arc[i]
		}
		if c == a {
			continue
		}
		if i < len(cur) {
			fmt.Fprintf(w, "- %s\n", c)
		}
		if i < len(arc) {
			fmt.Fprintf(w, "+ %s\n", a)
		}
	}
	fmt.Fprintln(w)
}

func copyDir(src, dst string) (int, error) {
	n := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
