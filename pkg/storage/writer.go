package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Write writes s to w in storage-set format.
func Write(w io.Writer, s *Set) error {
	bw := bufio.NewWriter(w)
	wr := &writer{w: bw}
	wr.writeSet(0, s)
	if wr.err != nil {
		return fmt.Errorf("storage: write: %w", wr.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	return nil
}

// Save writes s to path through a temporary file and a rename.
func Save(path string, s *Set) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}

	if err := Write(f, s); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// On Windows the target may need removing first.
		os.Remove(path)
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("storage: rename temp to final: %w", err)
		}
	}
	return nil
}

type writer struct {
	w   io.Writer
	err error
}

func (wr *writer) writes(parts ...string) {
	for _, p := range parts {
		if wr.err != nil {
			return
		}
		_, wr.err = io.WriteString(wr.w, p)
	}
}

func (wr *writer) writeSet(indent int, s *Set) {
	pad := strings.Repeat(" ", indent)
	width := s.width()

	for _, key := range s.Keys() {
		// Widths are in bytes, the same unit the reader measures.
		label := pad + key + strings.Repeat(" ", width-len(key)) + ":"

		switch v := s.data[key].(type) {
		case *List:
			wr.writes(label, string(ListMarker), "\n")
			for _, child := range v.sets {
				wr.writeSet(indent+IndentRate, child)
			}
		case *Set:
			wr.writes(label, string(SetMarker), "\n")
			wr.writeSet(indent+IndentRate, v)
		case string:
			if strings.ContainsAny(v, "\r\n") {
				wr.writes(label, string(StringMarker), "\n")
				wr.writeString(indent+IndentRate, v)
			} else {
				wr.writes(label, string(TypelessMarker), v, "\n")
			}
		}
	}
	wr.writes(pad, string(SetMarker), "\n")
}

func (wr *writer) writeString(indent int, data string) {
	pad := strings.Repeat(" ", indent)
	for _, line := range strings.Split(data, "\n") {
		wr.writes(pad, line, "\n")
	}
}
