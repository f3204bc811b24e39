package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind is the element type of a column.
type Kind int

const (
	Float Kind = iota
	Int
	Bool
	String
)

var kindNames = map[Kind]string{
	Float:  "float",
	Int:    "int",
	Bool:   "bool",
	String: "string",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a kind name as produced by Kind.String back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, errors.Newf("unknown column kind %q", s)
}

// ErrLengthMismatch is returned when columns or masks of different
// lengths are combined.
var ErrLengthMismatch = errors.New("length mismatch")

// Column is a named, typed, one-dimensional sequence of values with an
// optional missing-value mask. Exactly one of the value slices is in use,
// selected by Kind.
type Column struct {
	name string
	kind Kind

	floats []float64
	ints   []int64
	bools  []bool
	strs   []string

	// nil means no value is flagged missing. Float columns additionally
	// treat NaN as missing.
	missing []bool
}

// NewFloat returns a float column. The slices are not copied.
func NewFloat(name string, values []float64, missing []bool) *Column {
	return &Column{name: name, kind: Float, floats: values, missing: missing}
}

// NewInt returns an integer column. The slices are not copied.
func NewInt(name string, values []int64, missing []bool) *Column {
	return &Column{name: name, kind: Int, ints: values, missing: missing}
}

// NewBool returns a boolean column. The slices are not copied.
func NewBool(name string, values []bool, missing []bool) *Column {
	return &Column{name: name, kind: Bool, bools: values, missing: missing}
}

// NewString returns a string column. The slices are not copied.
func NewString(name string, values []string, missing []bool) *Column {
	return &Column{name: name, kind: String, strs: values, missing: missing}
}

// NewColumn builds a column from a slice of primitives. Narrow integer and
// float types are widened, time values are formatted as ISO dates.
func NewColumn(name string, data any, missing []bool) (*Column, error) {
	var col *Column
	switch v := data.(type) {
	case []float64:
		col = NewFloat(name, v, missing)
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		col = NewFloat(name, out, missing)
	case []int64:
		col = NewInt(name, v, missing)
	case []int32:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		col = NewInt(name, out, missing)
	case []int16:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		col = NewInt(name, out, missing)
	case []int8:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		col = NewInt(name, out, missing)
	case []int:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		col = NewInt(name, out, missing)
	case []uint64:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		col = NewInt(name, out, missing)
	case []bool:
		col = NewBool(name, v, missing)
	case []string:
		col = NewString(name, v, missing)
	case []time.Time:
		out := make([]string, len(v))
		for i, x := range v {
			if !x.IsZero() {
				out[i] = x.UTC().Format("2006-01-02")
			}
		}
		col = NewString(name, out, missing)
	default:
		return nil, errors.Newf("column %s: unsupported data type %T", name, data)
	}

	if missing != nil && len(missing) != col.Len() {
		return nil, errors.Wrapf(ErrLengthMismatch, "column %s: %d values, %d missing flags", name, col.Len(), len(missing))
	}
	return col, nil
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the element type.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.kind {
	case Float:
		return len(c.floats)
	case Int:
		return len(c.ints)
	case Bool:
		return len(c.bools)
	default:
		return len(c.strs)
	}
}

// Floats returns the underlying values of a float column, nil otherwise.
func (c *Column) Floats() []float64 { return c.floats }

// Ints returns the underlying values of an integer column, nil otherwise.
func (c *Column) Ints() []int64 { return c.ints }

// Bools returns the underlying values of a boolean column, nil otherwise.
func (c *Column) Bools() []bool { return c.bools }

// Strings returns the underlying values of a string column, nil otherwise.
func (c *Column) Strings() []string { return c.strs }

// Missing returns the missing-value mask, which may be nil.
func (c *Column) Missing() []bool { return c.missing }

// IsMissing reports whether value i is missing.
func (c *Column) IsMissing(i int) bool {
	if c.missing != nil && c.missing[i] {
		return true
	}
	return c.kind == Float && math.IsNaN(c.floats[i])
}

// CountMissing returns the number of missing values.
func (c *Column) CountMissing() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// HasMissing reports whether at least one value is missing.
func (c *Column) HasMissing() bool {
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			return true
		}
	}
	return false
}

// Value returns value i as an interface, or nil when it is missing.
func (c *Column) Value(i int) any {
	if c.IsMissing(i) {
		return nil
	}
	switch c.kind {
	case Float:
		return c.floats[i]
	case Int:
		return c.ints[i]
	case Bool:
		return c.bools[i]
	default:
		return c.strs[i]
	}
}

// Rename returns a column sharing the same data under a new name.
func (c *Column) Rename(name string) *Column {
	cp := *c
	cp.name = name
	return &cp
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	cp := &Column{name: c.name, kind: c.kind}
	switch c.kind {
	case Float:
		cp.floats = append([]float64(nil), c.floats...)
	case Int:
		cp.ints = append([]int64(nil), c.ints...)
	case Bool:
		cp.bools = append([]bool(nil), c.bools...)
	default:
		cp.strs = append([]string(nil), c.strs...)
	}
	if c.missing != nil {
		cp.missing = append([]bool(nil), c.missing...)
	}
	return cp
}

// Float64s returns the values converted to float64. Missing values and
// strings that do not parse as numbers become NaN; booleans become 0 or 1.
func (c *Column) Float64s() []float64 {
	n := c.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if c.IsMissing(i) {
			out[i] = math.NaN()
			continue
		}
		switch c.kind {
		case Float:
			out[i] = c.floats[i]
		case Int:
			out[i] = float64(c.ints[i])
		case Bool:
			if c.bools[i] {
				out[i] = 1
			}
		default:
			v, err := strconv.ParseFloat(strings.TrimSpace(c.strs[i]), 64)
			if err != nil {
				v = math.NaN()
			}
			out[i] = v
		}
	}
	return out
}

// Take returns a new column made of the values at the given positions.
func (c *Column) Take(idx []int) *Column {
	out := &Column{name: c.name, kind: c.kind}
	switch c.kind {
	case Float:
		out.floats = make([]float64, len(idx))
		for k, i := range idx {
			out.floats[k] = c.floats[i]
		}
	case Int:
		out.ints = make([]int64, len(idx))
		for k, i := range idx {
			out.ints[k] = c.ints[i]
		}
	case Bool:
		out.bools = make([]bool, len(idx))
		for k, i := range idx {
			out.bools[k] = c.bools[i]
		}
	default:
		out.strs = make([]string, len(idx))
		for k, i := range idx {
			out.strs[k] = c.strs[i]
		}
	}
	if c.missing != nil {
		out.missing = make([]bool, len(idx))
		for k, i := range idx {
			out.missing[k] = c.missing[i]
		}
	}
	return out
}

// Filter keeps the values whose mask entry is true.
func (c *Column) Filter(mask []bool) (*Column, error) {
	if len(mask) != c.Len() {
		return nil, errors.Wrapf(ErrLengthMismatch, "column %s: %d values, mask of %d", c.name, c.Len(), len(mask))
	}
	return c.Take(maskIndices(mask)), nil
}

// FillMissing replaces the missing values of a numeric column with v and
// returns the new column together with the number of replaced values.
func (c *Column) FillMissing(v float64) (*Column, int) {
	if !c.HasMissing() {
		return c, 0
	}
	out := c.Clone()
	filled := 0
	for i := 0; i < out.Len(); i++ {
		if !c.IsMissing(i) {
			continue
		}
		filled++
		switch out.kind {
		case Float:
			out.floats[i] = v
		case Int:
			out.ints[i] = int64(v)
		case Bool:
			out.bools[i] = v != 0
		default:
			out.strs[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	out.missing = nil
	return out, filled
}

// Scale multiplies a numeric column by f. Integer columns become float.
func (c *Column) Scale(f float64) (*Column, error) {
	switch c.kind {
	case Float, Int:
	default:
		return nil, errors.Newf("column %s: cannot scale %s values", c.name, c.kind)
	}
	vals := c.Float64s()
	for i := range vals {
		vals[i] *= f
	}
	var missing []bool
	if c.missing != nil {
		missing = append([]bool(nil), c.missing...)
	}
	return NewFloat(c.name, vals, missing), nil
}

// Cast converts the column to another kind. Missing flags are preserved;
// a string that cannot be parsed as the target kind is an error.
func (c *Column) Cast(kind Kind) (*Column, error) {
	if c.kind == kind {
		return c, nil
	}
	n := c.Len()
	var missing []bool
	if c.missing != nil {
		missing = append([]bool(nil), c.missing...)
	}
	if c.kind == Float {
		for i, v := range c.floats {
			if math.IsNaN(v) {
				if missing == nil {
					missing = make([]bool, n)
				}
				missing[i] = true
			}
		}
	}

	switch kind {
	case Float:
		if c.kind == String {
			vals := make([]float64, n)
			for i, s := range c.strs {
				if (missing != nil && missing[i]) || strings.TrimSpace(s) == "" {
					vals[i] = math.NaN()
					continue
				}
				v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return nil, errors.Wrapf(err, "column %s: row %d", c.name, i)
				}
				vals[i] = v
			}
			return NewFloat(c.name, vals, missing), nil
		}
		return NewFloat(c.name, c.Float64s(), missing), nil

	case Int:
		vals := make([]int64, n)
		for i := 0; i < n; i++ {
			if missing != nil && missing[i] {
				continue
			}
			switch c.kind {
			case Float:
				vals[i] = int64(c.floats[i])
			case Bool:
				if c.bools[i] {
					vals[i] = 1
				}
			default:
				if strings.TrimSpace(c.strs[i]) == "" {
					if missing == nil {
						missing = make([]bool, n)
					}
					missing[i] = true
					continue
				}
				v, err := strconv.ParseInt(strings.TrimSpace(c.strs[i]), 10, 64)
				if err != nil {
					f, ferr := strconv.ParseFloat(strings.TrimSpace(c.strs[i]), 64)
					if ferr != nil {
						return nil, errors.Wrapf(err, "column %s: row %d", c.name, i)
					}
					v = int64(f)
				}
				vals[i] = v
			}
		}
		return NewInt(c.name, vals, missing), nil

	case Bool:
		vals := make([]bool, n)
		for i := 0; i < n; i++ {
			if missing != nil && missing[i] {
				continue
			}
			switch c.kind {
			case Float:
				vals[i] = c.floats[i] != 0
			case Int:
				vals[i] = c.ints[i] != 0
			default:
				v, err := parseBool(c.strs[i])
				if err != nil {
					return nil, errors.Wrapf(err, "column %s: row %d", c.name, i)
				}
				vals[i] = v
			}
		}
		return NewBool(c.name, vals, missing), nil

	case String:
		vals := make([]string, n)
		for i := 0; i < n; i++ {
			if missing != nil && missing[i] {
				continue
			}
			vals[i] = fmt.Sprint(c.Value(i))
		}
		return NewString(c.name, vals, missing), nil
	}
	return nil, errors.Newf("column %s: unknown target kind %v", c.name, kind)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y", "oui", "vrai":
		return true, nil
	case "0", "false", "f", "no", "n", "non", "faux", "":
		return false, nil
	}
	return false, errors.Newf("invalid boolean %q", s)
}

func maskIndices(mask []bool) []int {
	idx := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			idx = append(idx, i)
		}
	}
	return idx
}
