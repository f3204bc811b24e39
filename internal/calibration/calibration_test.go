package calibration

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

func sample() (*frame.Frame, []float64) {
	fr := frame.MustNew(
		frame.NewInt("sexe", []int64{1, 1, 1, 2, 2, 2}, nil),
		frame.NewFloat("salaire", []float64{1000, 2000, 3000, 4000, 5000, 6000}, nil),
	)
	return fr, []float64{10, 10, 10, 10, 10, 10}
}

var margins = []Margin{
	{Variable: "sexe", Categories: map[string]float64{"1": 35, "2": 25}},
	{Variable: "salaire", Total: 200000},
}

func weightedTotals(fr *frame.Frame, w []float64) (men, women, salaire float64) {
	sexe := fr.Columns()[0].Ints()
	sal := fr.Columns()[1].Floats()
	for i := range w {
		if sexe[i] == 1 {
			men += w[i]
		} else {
			women += w[i]
		}
		salaire += w[i] * sal[i]
	}
	return men, women, salaire
}

func TestCalibrate_ReachesMarginsForEveryMethod(t *testing.T) {
	params := map[string]Parameters{
		"linear":       {Method: Linear},
		"raking ratio": {Method: RakingRatio},
		"logit":        DefaultParameters,
	}

	for name, p := range params {
		t.Run(name, func(t *testing.T) {
			fr, w := sample()
			cal, err := New(fr, w, p)
			require.NoError(t, err)
			require.NoError(t, cal.SetTargetMargins(margins...))

			res, err := cal.Calibrate()
			require.NoError(t, err)
			require.Len(t, res.Weights, 6)

			men, women, salaire := weightedTotals(fr, res.Weights)
			assert.InDelta(t, 35, men, 1e-6)
			assert.InDelta(t, 25, women, 1e-6)
			assert.InDelta(t, 200000, salaire, 1e-4)
			assert.InDelta(t, 35, res.Margins["sexe=1"], 1e-6)

			// Initial weights are left untouched.
			assert.Equal(t, []float64{10, 10, 10, 10, 10, 10}, w)
		})
	}
}

func TestCalibrate_LogitRatiosAreBounded(t *testing.T) {
	fr, w := sample()
	cal, err := New(fr, w, Parameters{Method: Logit, Up: 1.5, InvLo: 1.5})
	require.NoError(t, err)
	require.NoError(t, cal.SetTargetMargins(margins[0], Margin{Variable: "salaire", Total: 197000}))

	res, err := cal.Calibrate()
	require.NoError(t, err)
	for i, r := range res.Ratios(w) {
		assert.Greater(t, r, 1/1.5, "ratio %d", i)
		assert.Less(t, r, 1.5, "ratio %d", i)
	}
}

func TestCalibrate_LinearIsOneStep(t *testing.T) {
	fr, w := sample()
	cal, err := New(fr, w, Parameters{Method: Linear})
	require.NoError(t, err)
	require.NoError(t, cal.SetTargetMargins(margins...))

	res, err := cal.Calibrate()
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Iterations, 2)
}

func TestCalibrate_TotalPopulationWithCompleteCategories(t *testing.T) {
	fr, w := sample()
	cal, err := New(fr, w, Parameters{Method: RakingRatio})
	require.NoError(t, err)
	cal.TotalPopulation = 60
	require.NoError(t, cal.SetTargetMargins(margins[0]))

	res, err := cal.Calibrate()
	require.NoError(t, err)

	total := 0.0
	for _, x := range res.Weights {
		total += x
	}
	assert.InDelta(t, 60, total, 1e-6)
	men, women, _ := weightedTotals(fr, res.Weights)
	assert.InDelta(t, 35, men, 1e-6)
	assert.InDelta(t, 25, women, 1e-6)
}

func TestCalibrate_TotalPopulationOnly(t *testing.T) {
	fr, w := sample()
	cal, err := New(fr, w, Parameters{Method: Linear})
	require.NoError(t, err)
	cal.TotalPopulation = 90

	res, err := cal.Calibrate()
	require.NoError(t, err)
	for _, x := range res.Weights {
		assert.InDelta(t, 15, x, 1e-9)
	}
}

func TestParameters_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    Parameters
		want error
	}{
		{"linear", Parameters{Method: Linear}, nil},
		{"raking", Parameters{Method: RakingRatio}, nil},
		{"default logit", DefaultParameters, nil},
		{"unknown method", Parameters{Method: "quadratic"}, ErrInvalidMethod},
		{"empty method", Parameters{}, ErrInvalidMethod},
		{"logit without bounds", Parameters{Method: Logit}, ErrInvalidParameters},
		{"logit up too low", Parameters{Method: Logit, Up: 1, InvLo: 3}, ErrInvalidParameters},
		{"negative tolerance", Parameters{Method: Linear, Tolerance: -1}, ErrInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCalibrate_InvalidMargins(t *testing.T) {
	fr, w := sample()
	cal, err := New(fr, w, Parameters{Method: Linear})
	require.NoError(t, err)

	err = cal.SetTargetMargins(Margin{Variable: "age", Total: 1})
	assert.True(t, errors.Is(err, ErrInvalidMargin))

	require.NoError(t, cal.SetTargetMargins(Margin{Variable: "sexe", Categories: map[string]float64{"3": 10}}))
	_, err = cal.Calibrate()
	assert.True(t, errors.Is(err, ErrInvalidMargin))

	require.NoError(t, cal.SetTargetMargins())
	_, err = cal.Calibrate()
	assert.True(t, errors.Is(err, ErrInvalidMargin))

	_, err = New(fr, []float64{1, 2}, Parameters{Method: Linear})
	assert.True(t, errors.Is(err, frame.ErrLengthMismatch))
}

func TestCalibrate_NotConverged(t *testing.T) {
	fr, w := sample()
	cal, err := New(fr, w, Parameters{Method: RakingRatio, MaxIterations: 1})
	require.NoError(t, err)
	require.NoError(t, cal.SetTargetMargins(margins...))

	_, err = cal.Calibrate()
	assert.True(t, errors.Is(err, ErrNotConverged))
}

func TestSolve_RankDeficientGivesMinimumNorm(t *testing.T) {
	jac := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	x, err := solve(jac, []float64{2, 2})
	require.NoError(t, err)
	assert.InDelta(t, 1, x[0], 1e-9)
	assert.InDelta(t, 1, x[1], 1e-9)

	_, err = solve(mat.NewDense(2, 2, nil), []float64{1, 1})
	assert.True(t, errors.Is(err, ErrInvalidMargin))
}
