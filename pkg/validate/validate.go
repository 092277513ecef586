// Package validate checks a loaded world for broken references and
// auxiliary data that failed to initialize, with optional fixes.
package validate

import (
	"fmt"
	"sort"

	"github.com/crystal-mush/nakedsun/pkg/world"
)

// Category classifies the type of finding.
type Category int

const (
	CatIntegrityError Category = iota // broken references
	CatIntegrityWarn                  // suspicious references
	CatAuxiliary                      // auxiliary data problems
)

func (c Category) String() string {
	switch c {
	case CatIntegrityError:
		return "integrity-error"
	case CatIntegrityWarn:
		return "integrity-warning"
	case CatAuxiliary:
		return "auxiliary"
	default:
		return "unknown"
	}
}

// Severity indicates how serious a finding is.
type Severity int

const (
	SevError   Severity = iota // must be fixed for correct behavior
	SevWarning                 // should be reviewed
	SevInfo
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Finding is a single problem found in the world.
type Finding struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Kind        string   `json:"kind"`
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Effect      string   `json:"effect,omitempty"`
	Fixable     bool     `json:"fixable"`
	Fixed       bool     `json:"fixed"`
	fixFunc     func() error
}

// Checker is one validation pass.
type Checker interface {
	Name() string
	Check(w *world.World) []Finding
}

// Validator runs checkers against a world.
type Validator struct {
	checkers []Checker
	w        *world.World
	findings []Finding
}

// New creates a Validator with the built-in checkers. startRoom is where
// characters in missing rooms are moved by the fix; empty disables it.
func New(w *world.World, startRoom string) *Validator {
	return &Validator{
		w: w,
		checkers: []Checker{
			&IntegrityChecker{StartRoom: startRoom},
			&AuxChecker{},
		},
	}
}

// Run executes all checkers and returns findings sorted by kind then key.
func (v *Validator) Run() []Finding {
	v.findings = nil
	for _, c := range v.checkers {
		v.findings = append(v.findings, c.Check(v.w)...)
	}
	sort.SliceStable(v.findings, func(i, j int) bool {
		a, b := v.findings[i], v.findings[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Key < b.Key
	})
	return v.findings
}

// Findings returns the findings of the last Run.
func (v *Validator) Findings() []Finding {
	return v.findings
}

// ApplyFix applies a single fix by finding ID.
func (v *Validator) ApplyFix(id string) error {
	for i := range v.findings {
		f := &v.findings[i]
		if f.ID != id {
			continue
		}
		if !f.Fixable {
			return fmt.Errorf("finding %s is not fixable", id)
		}
		if f.Fixed {
			return fmt.Errorf("finding %s is already fixed", id)
		}
		if err := f.fixFunc(); err != nil {
			return fmt.Errorf("finding %s: %w", id, err)
		}
		f.Fixed = true
		return nil
	}
	return fmt.Errorf("finding %s not found", id)
}

// ApplyAll applies every fixable finding in cat and returns how many were
// fixed. The first failing fix stops it.
func (v *Validator) ApplyAll(cat Category) (int, error) {
	count := 0
	for i := range v.findings {
		f := &v.findings[i]
		if f.Category != cat || !f.Fixable || f.Fixed {
			continue
		}
		if err := f.fixFunc(); err != nil {
			return count, fmt.Errorf("finding %s: %w", f.ID, err)
		}
		f.Fixed = true
		count++
	}
	return count, nil
}

// Summary returns counts of findings per category.
func (v *Validator) Summary() map[Category]int {
	m := make(map[Category]int)
	for _, f := range v.findings {
		m[f.Category]++
	}
	return m
}
