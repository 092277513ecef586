package validate

import (
	"encoding/json"
	"fmt"
	"io"
)

// Report is the JSON form of a validation run.
type Report struct {
	TotalFindings int                    `json:"total_findings"`
	Categories    map[string]CategorySum `json:"categories"`
	Findings      []Finding              `json:"findings"`
}

// CategorySum summarizes findings for a single category.
type CategorySum struct {
	Total   int    `json:"total"`
	Fixable int    `json:"fixable"`
	Fixed   int    `json:"fixed"`
	Label   string `json:"label"`
}

var categoryLabels = map[Category]string{
	CatIntegrityError: "Referential Integrity Errors",
	CatIntegrityWarn:  "Referential Integrity Warnings",
	CatAuxiliary:      "Unavailable Auxiliary Data",
}

// GenerateReport builds a Report from the validator's current findings.
func GenerateReport(v *Validator) *Report {
	r := &Report{
		TotalFindings: len(v.findings),
		Categories:    make(map[string]CategorySum),
		Findings:      v.findings,
	}
	for _, f := range v.findings {
		cs, ok := r.Categories[f.Category.String()]
		if !ok {
			cs.Label = categoryLabels[f.Category]
		}
		cs.Total++
		if f.Fixable {
			cs.Fixable++
		}
		if f.Fixed {
			cs.Fixed++
		}
		r.Categories[f.Category.String()] = cs
	}
	return r
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes one line per finding.
func (r *Report) WriteText(w io.Writer) {
	for _, f := range r.Findings {
		status := ""
		if f.Fixed {
			status = " [fixed]"
		}
		fmt.Fprintf(w, "%-8s %-18s %s%s\n", f.Severity, f.Category, f.Description, status)
	}
	fmt.Fprintf(w, "%d findings\n", r.TotalFindings)
}
