package simulation

import (
	"log/slog"
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/period"
	"github.com/JonMunkholm/survey-manager/internal/tbs"
)

// Holder keeps the values of one variable, one column per period. Columns
// are entity arrays: one value per member of the variable's entity.
type Holder struct {
	variable *tbs.Variable
	entity   *EntityState
	arrays   map[period.Period]*frame.Column
}

// Variable returns the declaration of the held variable.
func (h *Holder) Variable() *tbs.Variable { return h.variable }

// Entity returns the state of the variable's entity.
func (h *Holder) Entity() *EntityState { return h.entity }

// Get returns the column stored for p.
func (h *Holder) Get(p period.Period) (*frame.Column, bool) {
	c, ok := h.arrays[p]
	return c, ok
}

// Periods returns the periods holding a column, in chronological order.
func (h *Holder) Periods() []period.Period {
	out := make([]period.Period, 0, len(h.arrays))
	for p := range h.arrays {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// SetInput stores col for p. The column is cast to the variable's value
// type and must have one value per entity member.
func (h *Holder) SetInput(p period.Period, col *frame.Column) error {
	if p.IsZero() {
		return errors.Newf("variable %s: input without a period", h.variable.Name)
	}
	if col.Len() != h.entity.Count {
		return errors.Wrapf(ErrSizeMismatch, "bad size for %s: %d instead of %d",
			h.variable.Name, col.Len(), h.entity.Count)
	}
	cast, err := col.Cast(h.variable.ValueType)
	if err != nil {
		return errors.Wrapf(err, "variable %s", h.variable.Name)
	}
	h.arrays[p] = cast.Rename(h.variable.Name)
	return nil
}

// Scale multiplies every stored column by f. The variable must be numeric.
// Integer variables are rounded to the nearest integer.
func (h *Holder) Scale(f float64) error {
	switch h.variable.ValueType {
	case frame.Float, frame.Int:
	default:
		return errors.Newf("variable %s: cannot scale %s values", h.variable.Name, h.variable.ValueType)
	}
	round := h.variable.ValueType == frame.Int && f != math.Trunc(f)
	if round {
		slog.Warn("scaling an integer variable by a fractional factor, values are rounded",
			"variable", h.variable.Name, "factor", f)
	}
	for p, c := range h.arrays {
		scaled, err := c.Scale(f)
		if err != nil {
			return err
		}
		if round {
			vals := scaled.Floats()
			for i, v := range vals {
				vals[i] = math.Round(v)
			}
		}
		if scaled, err = scaled.Cast(h.variable.ValueType); err != nil {
			return err
		}
		h.arrays[p] = scaled
	}
	return nil
}

// Delete drops the column stored for p.
func (h *Holder) Delete(p period.Period) {
	delete(h.arrays, p)
}
