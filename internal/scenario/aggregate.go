package scenario

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/logging"
	"github.com/JonMunkholm/survey-manager/internal/period"
	"github.com/JonMunkholm/survey-manager/internal/simulation"
)

// ErrInvalidAggFunc is returned for an aggregation other than sum, mean or
// count.
var ErrInvalidAggFunc = errors.New("invalid aggregation function")

// AggFunc is a weighted aggregation.
type AggFunc string

const (
	Sum   AggFunc = "sum"
	Mean  AggFunc = "mean"
	Count AggFunc = "count"
)

func (a AggFunc) validate() error {
	switch a {
	case Sum, Mean, Count:
		return nil
	}
	return errors.WithHint(errors.Wrapf(ErrInvalidAggFunc, "%q", string(a)),
		"aggfunc should be 'sum', 'mean' or 'count'")
}

// accumulator adds weighted values: sum of v.w.f and mass of w.f.
type accumulator struct {
	sum, mass float64
}

func (a *accumulator) add(v, mass float64) {
	a.sum += v * mass
	a.mass += mass
}

func (a accumulator) result(agg AggFunc) float64 {
	switch agg {
	case Sum:
		return a.sum
	case Mean:
		if a.mass == 0 {
			return math.NaN()
		}
		return a.sum / a.mass
	default:
		return a.mass
	}
}

// weightsAndFilter returns, for every member of entity, its weight times
// the value of the filter variable.
func (s *Scenario) weightsAndFilter(sim *simulation.Simulation, entity, filterBy string, p period.Period) ([]float64, error) {
	weight, err := s.weightVariable(entity)
	if err != nil {
		return nil, err
	}
	wcol, err := sim.Calculate(weight, p.AsYear())
	if err != nil {
		return nil, err
	}
	mass := wcol.Float64s()

	if filterBy == "" {
		filterBy = s.cfg.FilterByEntity[entity]
	}
	if filterBy == "" {
		return mass, nil
	}
	fv, err := sim.System().MustVariable(filterBy)
	if err != nil {
		return nil, err
	}
	if fv.Entity != entity {
		return nil, errors.Wrapf(ErrEntityMismatch, "filter %s belongs to %s, not %s", filterBy, fv.Entity, entity)
	}
	fcol, err := sim.CalculateAdd(filterBy, p)
	if err != nil {
		return nil, err
	}
	for i, f := range fcol.Float64s() {
		mass[i] *= f
	}
	return mass, nil
}

// ComputeAggregate returns the weighted sum, mean or count of a variable
// over its entity. filterBy defaults to the configured filtering variable
// of the entity; a zero period is the scenario year. An unknown variable
// yields NaN.
func (s *Scenario) ComputeAggregate(ctx context.Context, variable string, agg AggFunc, filterBy string, p period.Period, reference bool) (float64, error) {
	if err := agg.validate(); err != nil {
		return 0, err
	}
	if p.IsZero() {
		p = s.cfg.Period()
	}
	sim, err := s.Simulation(ctx, reference)
	if err != nil {
		return 0, err
	}
	v, ok := sim.System().Variable(variable)
	if !ok {
		logging.FromContext(ctx).Info("variable not found in the tax-benefit system, aggregate is NaN",
			"variable", variable, "system", sim.System().Name)
		return math.NaN(), nil
	}

	mass, err := s.weightsAndFilter(sim, v.Entity, filterBy, p)
	if err != nil {
		return 0, err
	}
	values, err := numericValues(sim, variable, p)
	if err != nil {
		return 0, err
	}

	var acc accumulator
	for i, x := range values {
		acc.add(x, mass[i])
	}
	return acc.result(agg), nil
}

func numericValues(sim *simulation.Simulation, variable string, p period.Period) ([]float64, error) {
	col, err := sim.CalculateAdd(variable, p)
	if err != nil {
		return nil, err
	}
	if col.Kind() == frame.String {
		return nil, errors.Newf("cannot aggregate %s values of %s", col.Kind(), variable)
	}
	return col.Float64s(), nil
}

// PivotTable is a table of aggregates. Rows are the values taken by the
// index variables, columns the values taken by the column variables.
type PivotTable struct {
	Rows    []string
	Columns []string
	// Cells[i][j] is the aggregate of row i and column j, NaN when empty.
	Cells [][]float64
}

// Get returns the cell of a row and a column label.
func (t *PivotTable) Get(row, col string) (float64, bool) {
	i := indexOf(t.Rows, row)
	j := indexOf(t.Columns, col)
	if i < 0 || j < 0 {
		return math.NaN(), false
	}
	return t.Cells[i][j], true
}

// Sub returns t minus other, cell by cell, on the union of their labels.
// Cells absent from one side are NaN.
func (t *PivotTable) Sub(other *PivotTable) *PivotTable {
	out := &PivotTable{
		Rows:    sortLabels(union(t.Rows, other.Rows)),
		Columns: sortLabels(union(t.Columns, other.Columns)),
	}
	out.Cells = make([][]float64, len(out.Rows))
	for i, r := range out.Rows {
		out.Cells[i] = make([]float64, len(out.Columns))
		for j, c := range out.Columns {
			a, okA := t.Get(r, c)
			b, okB := other.Get(r, c)
			if !okA || !okB {
				out.Cells[i][j] = math.NaN()
				continue
			}
			out.Cells[i][j] = a - b
		}
	}
	return out
}

func (t *PivotTable) String() string {
	var b strings.Builder
	b.WriteString("\t" + strings.Join(t.Columns, "\t") + "\n")
	for i, r := range t.Rows {
		b.WriteString(r)
		for _, x := range t.Cells[i] {
			b.WriteString("\t" + strconv.FormatFloat(x, 'g', -1, 64))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// PivotOptions select the content of a pivot table.
type PivotOptions struct {
	Values    string
	Index     []string
	Columns   []string
	AggFunc   AggFunc
	FilterBy  string
	Period    period.Period
	Reference bool
	// Difference computes the current minus the reference pivot.
	Difference bool
}

// ComputePivotTable aggregates Values grouped by the values of the Index
// and Columns variables. Every variable must belong to the entity of
// Values. Without column variables, the table has one column named after
// Values.
func (s *Scenario) ComputePivotTable(ctx context.Context, opts PivotOptions) (*PivotTable, error) {
	if opts.AggFunc == "" {
		opts.AggFunc = Mean
	}
	if err := opts.AggFunc.validate(); err != nil {
		return nil, err
	}
	if opts.Difference {
		cur := opts
		cur.Difference, cur.Reference = false, false
		current, err := s.ComputePivotTable(ctx, cur)
		if err != nil {
			return nil, err
		}
		ref := cur
		ref.Reference = true
		reference, err := s.ComputePivotTable(ctx, ref)
		if err != nil {
			return nil, err
		}
		return current.Sub(reference), nil
	}

	if opts.Period.IsZero() {
		opts.Period = s.cfg.Period()
	}
	sim, err := s.Simulation(ctx, opts.Reference)
	if err != nil {
		return nil, err
	}
	sys := sim.System()
	v, err := sys.MustVariable(opts.Values)
	if err != nil {
		return nil, err
	}
	groupBy := append(append([]string(nil), opts.Index...), opts.Columns...)
	for _, name := range groupBy {
		gv, err := sys.MustVariable(name)
		if err != nil {
			return nil, err
		}
		if gv.Entity != v.Entity {
			return nil, errors.Wrapf(ErrEntityMismatch, "%s belongs to %s, %s to %s", name, gv.Entity, opts.Values, v.Entity)
		}
	}

	mass, err := s.weightsAndFilter(sim, v.Entity, opts.FilterBy, opts.Period)
	if err != nil {
		return nil, err
	}
	values, err := numericValues(sim, opts.Values, opts.Period)
	if err != nil {
		return nil, err
	}
	rowKeys, err := groupLabels(sim, opts.Index, opts.Period, len(values))
	if err != nil {
		return nil, err
	}
	colKeys, err := groupLabels(sim, opts.Columns, opts.Period, len(values))
	if err != nil {
		return nil, err
	}
	if len(opts.Columns) == 0 {
		for i := range colKeys {
			colKeys[i] = opts.Values
		}
	}

	type cell struct{ row, col string }
	acc := make(map[cell]*accumulator)
	rows, cols := make(map[string]bool), make(map[string]bool)
	for i, x := range values {
		k := cell{rowKeys[i], colKeys[i]}
		a, ok := acc[k]
		if !ok {
			a = &accumulator{}
			acc[k] = a
		}
		a.add(x, mass[i])
		rows[k.row], cols[k.col] = true, true
	}

	t := &PivotTable{Rows: sortLabels(keys(rows)), Columns: sortLabels(keys(cols))}
	t.Cells = make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		t.Cells[i] = make([]float64, len(t.Columns))
		for j, c := range t.Columns {
			if a, ok := acc[cell{r, c}]; ok {
				t.Cells[i][j] = a.result(opts.AggFunc)
			} else {
				t.Cells[i][j] = math.NaN()
			}
		}
	}
	logging.FromContext(ctx).Debug("pivot table computed",
		"values", opts.Values, "rows", len(t.Rows), "columns", len(t.Columns), "reference", opts.Reference)
	return t, nil
}

// groupLabels returns, for every member, the values of the grouping
// variables joined by ", ".
func groupLabels(sim *simulation.Simulation, names []string, p period.Period, n int) ([]string, error) {
	out := make([]string, n)
	for k, name := range names {
		col, err := sim.Calculate(name, p)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if k > 0 {
				out[i] += ", "
			}
			out[i] += label(col, i)
		}
	}
	return out, nil
}

func label(col *frame.Column, i int) string {
	switch v := col.Value(i).(type) {
	case nil:
		return "NaN"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return ""
	}
}

// sortLabels sorts numerically when every label is a number.
func sortLabels(labels []string) []string {
	nums := make([]float64, len(labels))
	numeric := true
	for i, l := range labels {
		f, err := strconv.ParseFloat(l, 64)
		if err != nil {
			numeric = false
			break
		}
		nums[i] = f
	}
	if numeric {
		sort.Sort(byNumber{labels, nums})
	} else {
		sort.Strings(labels)
	}
	return labels
}

type byNumber struct {
	labels []string
	nums   []float64
}

func (b byNumber) Len() int           { return len(b.labels) }
func (b byNumber) Less(i, j int) bool { return b.nums[i] < b.nums[j] }
func (b byNumber) Swap(i, j int) {
	b.labels[i], b.labels[j] = b.labels[j], b.labels[i]
	b.nums[i], b.nums[j] = b.nums[j], b.nums[i]
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, l := range a {
		seen[l] = true
	}
	for _, l := range b {
		seen[l] = true
	}
	return keys(seen)
}

func indexOf(labels []string, l string) int {
	for i, x := range labels {
		if x == l {
			return i
		}
	}
	return -1
}
