package features

import (
	"fmt"
	"sort"
)

// DefaultPolicy supplies the value of a training column that is absent from a
// live vector.
type DefaultPolicy interface {
	Default(column string) float64
}

// ZeroDefault fills every missing column with 0.
type ZeroDefault struct{}

func (ZeroDefault) Default(string) float64 { return 0 }

// PerColumnDefault fills missing columns from a table and falls back to
// Fallback for columns it does not list.
type PerColumnDefault struct {
	Values   map[string]float64
	Fallback float64
}

func (p PerColumnDefault) Default(column string) float64 {
	if v, ok := p.Values[column]; ok {
		return v
	}
	return p.Fallback
}

// Aligner reindexes live vectors to the column list frozen at training time.
type Aligner struct {
	columns  []string
	defaults DefaultPolicy
}

// Alignment is the aligned vector plus what had to change to produce it.
type Alignment struct {
	Values  []float64
	Filled  []string
	Dropped []string
}

// NewAligner creates an Aligner for columns. A nil policy means ZeroDefault.
func NewAligner(columns []string, defaults DefaultPolicy) (*Aligner, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("aligner needs at least one column")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	if defaults == nil {
		defaults = ZeroDefault{}
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Aligner{columns: cols, defaults: defaults}, nil
}

// Columns returns the training column list.
func (a *Aligner) Columns() []string {
	out := make([]string, len(a.columns))
	copy(out, a.columns)
	return out
}

// Align returns a vector with exactly the training columns, in training
// order. Missing columns are filled by the default policy; extra columns are
// dropped.
func (a *Aligner) Align(live map[string]float64) Alignment {
	out := Alignment{Values: make([]float64, len(a.columns))}
	known := make(map[string]bool, len(a.columns))
	for i, c := range a.columns {
		known[c] = true
		if v, ok := live[c]; ok {
			out.Values[i] = v
			continue
		}
		out.Values[i] = a.defaults.Default(c)
		out.Filled = append(out.Filled, c)
	}
	for c := range live {
		if !known[c] {
			out.Dropped = append(out.Dropped, c)
		}
	}
	sort.Strings(out.Dropped)
	return out
}
