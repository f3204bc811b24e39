// Package calibration adjusts sampling weights so that weighted totals
// match target margins, with the distance functions of the CALMAR method:
// linear, raking ratio and logit.
//
// The calibrated weight of unit i is d_i * F(x_i . lambda) where d_i is its
// initial weight, x_i its margin variables and lambda the Lagrange
// multipliers solving sum_i d_i F(x_i . lambda) x_i = margins. The system is
// solved with Newton steps.
package calibration

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

var (
	// ErrInvalidMethod is returned for a method other than linear, raking
	// ratio or logit.
	ErrInvalidMethod = errors.New("invalid calibration method")

	// ErrInvalidParameters is returned when the parameters of a method are
	// missing or out of range.
	ErrInvalidParameters = errors.New("invalid calibration parameters")

	// ErrInvalidMargin is returned when a margin cannot be set on the data.
	ErrInvalidMargin = errors.New("invalid margin")

	// ErrNotConverged is returned when the solver does not reach the
	// margins within the iteration budget.
	ErrNotConverged = errors.New("calibration did not converge")
)

// Method is a calibration distance.
type Method string

const (
	Linear      Method = "linear"
	RakingRatio Method = "raking ratio"
	Logit       Method = "logit"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Linear, RakingRatio, Logit:
		return m, nil
	}
	return "", errors.WithHint(
		errors.Wrapf(ErrInvalidMethod, "%q", s),
		"method should be 'linear', 'raking ratio' or 'logit'")
}

// Parameters configure a calibration.
type Parameters struct {
	Method Method
	// Up and InvLo bound the logit weight ratios to (1/InvLo, Up). Both must
	// be greater than 1.
	Up    float64
	InvLo float64
	// Tolerance on the relative margin error; 1e-9 when zero.
	Tolerance float64
	// MaxIterations of the Newton solver; 256 when zero.
	MaxIterations int
}

// DefaultParameters is a logit calibration with ratios in (1/3, 3).
var DefaultParameters = Parameters{Method: Logit, Up: 3, InvLo: 3}

// Validate checks the method and its parameters.
func (p Parameters) Validate() error {
	if _, err := ParseMethod(string(p.Method)); err != nil {
		return err
	}
	if p.Method == Logit {
		if p.Up <= 1 || p.InvLo <= 1 {
			return errors.Wrapf(ErrInvalidParameters, "logit needs up and invlo greater than 1, got up=%v invlo=%v",
				p.Up, p.InvLo)
		}
	}
	if p.Tolerance < 0 || p.MaxIterations < 0 {
		return errors.Wrap(ErrInvalidParameters, "tolerance and iterations must not be negative")
	}
	return nil
}

func (p Parameters) tolerance() float64 {
	if p.Tolerance == 0 {
		return 1e-9
	}
	return p.Tolerance
}

func (p Parameters) maxIterations() int {
	if p.MaxIterations == 0 {
		return 256
	}
	return p.MaxIterations
}

// distance returns F and its derivative for the method.
func (p Parameters) distance() (f, df func(u float64) float64) {
	switch p.Method {
	case Linear:
		return func(u float64) float64 { return 1 + u },
			func(float64) float64 { return 1 }
	case RakingRatio:
		return math.Exp, math.Exp
	default:
		lo, up := 1/p.InvLo, p.Up
		a := (up - lo) / ((1 - lo) * (up - 1))
		f = func(u float64) float64 {
			e := math.Exp(a * u)
			return (lo*(up-1) + up*(1-lo)*e) / ((up - 1) + (1-lo)*e)
		}
		df = func(u float64) float64 {
			e := math.Exp(a * u)
			d := (up - 1) + (1-lo)*e
			return (up - lo) * (up - lo) * e / (d * d)
		}
		return f, df
	}
}

// Margin is the target of one variable: its weighted total when
// Categories is nil, otherwise the weighted count of each category.
type Margin struct {
	Variable   string
	Total      float64
	Categories map[string]float64
}

// Calibration holds the data and targets of a calibration.
type Calibration struct {
	Parameters Parameters
	// TotalPopulation, when positive, is the target of the sum of weights.
	TotalPopulation float64

	data    *frame.Frame
	weights []float64
	margins []Margin
}

// New returns a calibration of the given initial weights over data, one
// row per weighted unit.
func New(data *frame.Frame, weights []float64, params Parameters) (*Calibration, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if data.Len() != len(weights) && data.Width() > 0 {
		return nil, errors.Wrapf(frame.ErrLengthMismatch, "%d rows for %d weights", data.Len(), len(weights))
	}
	for i, w := range weights {
		if math.IsNaN(w) || w < 0 {
			return nil, errors.Newf("initial weight %d is %v", i, w)
		}
	}
	return &Calibration{Parameters: params, data: data, weights: weights}, nil
}

// SetTargetMargins replaces the target margins.
func (c *Calibration) SetTargetMargins(margins ...Margin) error {
	for _, m := range margins {
		if !c.data.Has(m.Variable) {
			return errors.Wrapf(ErrInvalidMargin, "variable %s is not in the calibration data", m.Variable)
		}
	}
	c.margins = margins
	return nil
}

// constraint is one column of the design matrix with its target.
type constraint struct {
	name   string
	x      []float64
	target float64
}

func (c *Calibration) constraints() ([]constraint, error) {
	n := len(c.weights)
	var out []constraint
	if c.TotalPopulation > 0 {
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		out = append(out, constraint{name: "total_population", x: ones, target: c.TotalPopulation})
	}

	for _, m := range c.margins {
		col, _ := c.data.Column(m.Variable)
		if m.Categories == nil {
			x := col.Float64s()
			for i, v := range x {
				if math.IsNaN(v) {
					return nil, errors.Wrapf(ErrInvalidMargin, "variable %s has a missing value at row %d", m.Variable, i)
				}
			}
			out = append(out, constraint{name: m.Variable, x: x, target: m.Total})
			continue
		}

		cats := make([]string, 0, len(m.Categories))
		for k := range m.Categories {
			cats = append(cats, k)
		}
		sort.Strings(cats)
		labels := categoryLabels(col)
		for _, cat := range cats {
			x := make([]float64, n)
			present := false
			for i, l := range labels {
				if l == cat {
					x[i] = 1
					present = true
				}
			}
			if !present {
				return nil, errors.Wrapf(ErrInvalidMargin, "category %q of %s is absent from the data", cat, m.Variable)
			}
			out = append(out, constraint{name: fmt.Sprintf("%s=%s", m.Variable, cat), x: x, target: m.Categories[cat]})
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrInvalidMargin, "no margin to calibrate on")
	}
	return out, nil
}

func categoryLabels(col *frame.Column) []string {
	out := make([]string, col.Len())
	for i := range out {
		switch v := col.Value(i).(type) {
		case nil:
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// Result is the outcome of a calibration.
type Result struct {
	Weights    []float64
	Lambda     []float64
	Iterations int
	// Margins are the weighted totals reached, by constraint name.
	Margins map[string]float64
}

// Ratios returns the calibrated to initial weight ratios.
func (r *Result) Ratios(initial []float64) []float64 {
	out := make([]float64, len(initial))
	for i, d := range initial {
		if d != 0 {
			out[i] = r.Weights[i] / d
		}
	}
	return out
}

// Calibrate runs the solver.
func (c *Calibration) Calibrate() (*Result, error) {
	cons, err := c.constraints()
	if err != nil {
		return nil, err
	}
	f, df := c.Parameters.distance()
	n, k := len(c.weights), len(cons)

	targets := make([]float64, k)
	for j, con := range cons {
		targets[j] = con.target
	}

	// residual returns sum_i d_i F(x_i . lambda) x_i - margins.
	linear := make([]float64, n)
	residual := func(lambda []float64) []float64 {
		for i := 0; i < n; i++ {
			u := 0.0
			for j := 0; j < k; j++ {
				u += cons[j].x[i] * lambda[j]
			}
			linear[i] = u
		}
		g := make([]float64, k)
		for i := 0; i < n; i++ {
			w := c.weights[i] * f(linear[i])
			for j := 0; j < k; j++ {
				g[j] += w * cons[j].x[i]
			}
		}
		for j := range g {
			g[j] -= targets[j]
		}
		return g
	}
	converged := func(g []float64) bool {
		for j, v := range g {
			if math.IsNaN(v) || math.Abs(v) > c.Parameters.tolerance()*math.Max(1, math.Abs(targets[j])) {
				return false
			}
		}
		return true
	}

	lambda := make([]float64, k)
	g := residual(lambda)
	iter := 0
	for ; iter < c.Parameters.maxIterations() && !converged(g); iter++ {
		// Jacobian: sum_i d_i F'(u_i) x_i x_i^T, at the current lambda.
		jac := mat.NewDense(k, k, nil)
		for i := 0; i < n; i++ {
			w := c.weights[i] * df(linear[i])
			if w == 0 {
				continue
			}
			for a := 0; a < k; a++ {
				xa := cons[a].x[i]
				if xa == 0 {
					continue
				}
				for b := 0; b < k; b++ {
					jac.Set(a, b, jac.At(a, b)+w*xa*cons[b].x[i])
				}
			}
		}

		step, err := solve(jac, g)
		if err != nil {
			return nil, errors.Wrapf(err, "calibration step %d", iter)
		}

		// Backtrack while the step does not reduce the residual.
		norm := l2(g)
		t := 1.0
		var next []float64
		var nextG []float64
		for half := 0; half < 40; half++ {
			next = make([]float64, k)
			for j := range next {
				next[j] = lambda[j] - t*step[j]
			}
			nextG = residual(next)
			if r := l2(nextG); !math.IsNaN(r) && r < norm {
				break
			}
			t /= 2
		}
		lambda, g = next, nextG
	}
	if !converged(g) {
		return nil, errors.WithDetailf(
			errors.Wrapf(ErrNotConverged, "%s after %d iterations", c.Parameters.Method, iter),
			"residuals: %v", g)
	}

	// linear holds x_i . lambda for the accepted lambda.
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = c.weights[i] * f(linear[i])
	}
	reached := make(map[string]float64, k)
	for j, con := range cons {
		reached[con.name] = g[j] + con.target
	}

	slog.Info("calibration converged", "method", string(c.Parameters.Method), "iterations", iter, "margins", k)
	return &Result{Weights: weights, Lambda: lambda, Iterations: iter, Margins: reached}, nil
}

// solve returns the minimum norm solution of jac . x = g, which tolerates
// redundant margins such as complete categories plus a total population.
func solve(jac *mat.Dense, g []float64) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(jac, mat.SVDThin); !ok {
		return nil, errors.New("singular value decomposition failed")
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return nil, errors.Wrap(ErrInvalidMargin, "margin variables are all zero")
	}
	// The residual is non-zero only for inconsistent margins, which the
	// Newton loop reports as non-convergence.
	var x mat.VecDense
	svd.SolveVecTo(&x, mat.NewVecDense(len(g), g), rank)
	out := make([]float64, len(g))
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

func l2(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
