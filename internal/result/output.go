// Package result holds engine outputs and the reduction that merges repeated
// runs of the same magnetron into one statistical result.
package result

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoOutputs is returned when combining an empty sequence.
var ErrNoOutputs = errors.New("no outputs to combine")

// Deposition is the averaged particle deposition on one object, a Rows x Cols
// matrix in row-major order.
type Deposition struct {
	Rows   int
	Cols   int
	Counts []float64
}

// NewDeposition allocates an empty rows x cols matrix.
func NewDeposition(rows, cols int) *Deposition {
	return &Deposition{Rows: rows, Cols: cols, Counts: make([]float64, rows*cols)}
}

// At returns the value at row i, column j.
func (d *Deposition) At(i, j int) float64 { return d.Counts[i*d.Cols+j] }

// Total is the sum over all cells.
func (d *Deposition) Total() float64 {
	var sum float64
	for _, c := range d.Counts {
		sum += c
	}
	return sum
}

func (d *Deposition) clone() *Deposition {
	cp := &Deposition{Rows: d.Rows, Cols: d.Cols, Counts: make([]float64, len(d.Counts))}
	copy(cp.Counts, d.Counts)
	return cp
}

// Output is the result of one or more engine runs for a single active magnetron.
type Output struct {
	// Runs is the number of engine runs folded into this output.
	Runs    int
	Objects map[string]*Deposition
}

// Object returns the deposition recorded for name.
func (o *Output) Object(name string) (*Deposition, bool) {
	d, ok := o.Objects[name]
	return d, ok
}

// Names lists the recorded objects in lexical order.
func (o *Output) Names() []string {
	names := make([]string, 0, len(o.Objects))
	for n := range o.Objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (o *Output) Clone() *Output {
	cp := &Output{Runs: o.Runs, Objects: make(map[string]*Deposition, len(o.Objects))}
	for n, d := range o.Objects {
		cp.Objects[n] = d.clone()
	}
	return cp
}

// Add returns the sum of o and other. Neither operand is modified.
func (o *Output) Add(other *Output) (*Output, error) {
	if err := compatible(o, other); err != nil {
		return nil, err
	}
	sum := o.Clone()
	sum.Runs += other.Runs
	for n, d := range other.Objects {
		dst := sum.Objects[n].Counts
		for i, c := range d.Counts {
			dst[i] += c
		}
	}
	return sum, nil
}

// Mean divides every count by the number of runs.
func (o *Output) Mean() *Output {
	m := o.Clone()
	if o.Runs <= 1 {
		return m
	}
	k := float64(o.Runs)
	for _, d := range m.Objects {
		for i := range d.Counts {
			d.Counts[i] /= k
		}
	}
	return m
}

// Combine folds repeated runs of the same magnetron into one output by
// summing depositions cell by cell. The reduction is associative and
// commutative; a single output combines to an equal copy of itself.
func Combine(outputs ...*Output) (*Output, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	acc := outputs[0].Clone()
	for _, o := range outputs[1:] {
		next, err := acc.Add(o)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// MismatchError reports outputs that cannot be combined.
type MismatchError struct {
	Object string
	Reason string
}

func (e *MismatchError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("outputs differ: %s", e.Reason)
	}
	return fmt.Sprintf("outputs differ on object %q: %s", e.Object, e.Reason)
}

func compatible(a, b *Output) error {
	if len(a.Objects) != len(b.Objects) {
		return &MismatchError{Reason: fmt.Sprintf("%d vs %d objects", len(a.Objects), len(b.Objects))}
	}
	for n, da := range a.Objects {
		db, ok := b.Objects[n]
		if !ok {
			return &MismatchError{Object: n, Reason: "missing in one output"}
		}
		if da.Rows != db.Rows || da.Cols != db.Cols {
			return &MismatchError{Object: n, Reason: fmt.Sprintf("shape %dx%d vs %dx%d", da.Rows, da.Cols, db.Rows, db.Cols)}
		}
	}
	return nil
}
