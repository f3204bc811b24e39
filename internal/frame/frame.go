// Package frame provides a small column-oriented table used to move survey
// data between source files, the table store and the simulation.
//
// A Frame is an ordered set of equally long, uniquely named Columns. Frames
// are treated as values: every transformation returns a new Frame and
// leaves the receiver untouched (column data may be shared).
package frame

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrColumnNotFound is returned when a requested column does not exist.
var ErrColumnNotFound = errors.New("column not found")

// ErrDuplicateColumn is returned when two columns share a name.
var ErrDuplicateColumn = errors.New("duplicate column")

// Frame is an ordered collection of columns of equal length.
type Frame struct {
	columns []*Column
	index   map[string]int
}

// New builds a frame from columns. All columns must have the same length
// and distinct names.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := f.add(c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(cols ...*Column) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Frame) add(c *Column) error {
	if _, exists := f.index[c.Name()]; exists {
		return errors.Wrapf(ErrDuplicateColumn, "%s", c.Name())
	}
	if len(f.columns) > 0 && c.Len() != f.Len() {
		return errors.Wrapf(ErrLengthMismatch, "column %s has %d rows, frame has %d", c.Name(), c.Len(), f.Len())
	}
	f.index[c.Name()] = len(f.columns)
	f.columns = append(f.columns, c)
	return nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil || len(f.columns) == 0 {
		return 0
	}
	return f.columns[0].Len()
}

// Width returns the number of columns.
func (f *Frame) Width() int {
	if f == nil {
		return 0
	}
	return len(f.columns)
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name()
	}
	return names
}

// Columns returns the columns in order. The slice must not be modified.
func (f *Frame) Columns() []*Column {
	return f.columns
}

// Column returns the named column.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

// MustColumn returns the named column or an ErrColumnNotFound error.
func (f *Frame) MustColumn(name string) (*Column, error) {
	c, ok := f.Column(name)
	if !ok {
		return nil, errors.Wrapf(ErrColumnNotFound, "%s", name)
	}
	return c, nil
}

// Has reports whether the frame holds a column with this name.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		c, err := f.MustColumn(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// Drop returns a frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := &Frame{index: make(map[string]int)}
	for _, c := range f.columns {
		if !drop[c.Name()] {
			out.index[c.Name()] = len(out.columns)
			out.columns = append(out.columns, c)
		}
	}
	return out
}

// Rename returns a frame whose columns are renamed according to mapping.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	cols := make([]*Column, len(f.columns))
	for i, c := range f.columns {
		if to, ok := mapping[c.Name()]; ok {
			cols[i] = c.Rename(to)
		} else {
			cols[i] = c
		}
	}
	return New(cols...)
}

// LowercaseNames returns a frame whose column names are lower case.
func (f *Frame) LowercaseNames() (*Frame, error) {
	mapping := make(map[string]string, len(f.columns))
	for _, c := range f.columns {
		mapping[c.Name()] = strings.ToLower(c.Name())
	}
	return f.Rename(mapping)
}

// With returns a frame where col is added, or replaces the column of the
// same name.
func (f *Frame) With(col *Column) (*Frame, error) {
	cols := make([]*Column, 0, len(f.columns)+1)
	replaced := false
	for _, c := range f.columns {
		if c.Name() == col.Name() {
			cols = append(cols, col)
			replaced = true
			continue
		}
		cols = append(cols, c)
	}
	if !replaced {
		cols = append(cols, col)
	}
	return New(cols...)
}

// Filter keeps the rows whose mask entry is true.
func (f *Frame) Filter(mask []bool) (*Frame, error) {
	if len(mask) != f.Len() {
		return nil, errors.Wrapf(ErrLengthMismatch, "mask of %d for %d rows", len(mask), f.Len())
	}
	return f.Take(maskIndices(mask)), nil
}

// Take returns a frame made of the rows at the given positions.
func (f *Frame) Take(idx []int) *Frame {
	out := &Frame{index: make(map[string]int, len(f.columns))}
	for _, c := range f.columns {
		out.index[c.Name()] = len(out.columns)
		out.columns = append(out.columns, c.Take(idx))
	}
	return out
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame {
	if n < 0 || n > f.Len() {
		n = f.Len()
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return f.Take(idx)
}

// Concat appends the rows of other, which must have the same column names
// and kinds.
func (f *Frame) Concat(other *Frame) (*Frame, error) {
	if f.Width() == 0 {
		return other, nil
	}
	if other.Width() != f.Width() {
		return nil, errors.Wrapf(ErrLengthMismatch, "concat: %d columns vs %d", f.Width(), other.Width())
	}
	cols := make([]*Column, len(f.columns))
	for i, c := range f.columns {
		oc, ok := other.Column(c.Name())
		if !ok {
			return nil, errors.Wrapf(ErrColumnNotFound, "concat: %s", c.Name())
		}
		if oc.Kind() != c.Kind() {
			var err error
			if oc, err = oc.Cast(c.Kind()); err != nil {
				return nil, err
			}
		}
		cols[i] = concatColumns(c, oc)
	}
	return New(cols...)
}

func concatColumns(a, b *Column) *Column {
	out := &Column{name: a.name, kind: a.kind}
	switch a.kind {
	case Float:
		out.floats = append(append([]float64(nil), a.floats...), b.floats...)
	case Int:
		out.ints = append(append([]int64(nil), a.ints...), b.ints...)
	case Bool:
		out.bools = append(append([]bool(nil), a.bools...), b.bools...)
	default:
		out.strs = append(append([]string(nil), a.strs...), b.strs...)
	}
	if a.missing != nil || b.missing != nil {
		out.missing = make([]bool, 0, a.Len()+b.Len())
		out.missing = append(out.missing, maskOrFalse(a)...)
		out.missing = append(out.missing, maskOrFalse(b)...)
	}
	return out
}

func maskOrFalse(c *Column) []bool {
	if c.missing != nil {
		return c.missing
	}
	return make([]bool, c.Len())
}
