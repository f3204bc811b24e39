package scenario

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/calibration"
	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/logging"
)

// CalibrateOptions describe a calibration of the weights of one entity.
type CalibrateOptions struct {
	// Entity whose weights are calibrated. Defaults to the entity of the
	// first margin variable, or the person entity.
	Entity string

	Margins         []calibration.Margin
	TotalPopulation float64

	// Parameters default to calibration.DefaultParameters.
	Parameters *calibration.Parameters

	Reference bool
}

// Calibrate adjusts the weights of an entity so that the weighted totals of
// the margin variables reach their targets, and stores the calibrated
// weights in the simulation. Calibration always starts from the weights
// the simulation had before its first calibration.
func (s *Scenario) Calibrate(ctx context.Context, opts CalibrateOptions) (*calibration.Result, error) {
	params := calibration.DefaultParameters
	if opts.Parameters != nil {
		params = *opts.Parameters
	}
	sim, err := s.Simulation(ctx, opts.Reference)
	if err != nil {
		return nil, err
	}
	sys := sim.System()
	year := s.cfg.Period()

	entity := opts.Entity
	if entity == "" {
		entity = sys.PersonEntity().Key
		if len(opts.Margins) > 0 {
			v, err := sys.MustVariable(opts.Margins[0].Variable)
			if err != nil {
				return nil, err
			}
			entity = v.Entity
		}
	}
	weight, err := s.weightVariable(entity)
	if err != nil {
		return nil, err
	}

	key := weightsKey(entity, opts.Reference)
	initial, ok := s.initialWeights[key]
	if !ok {
		col, err := sim.Calculate(weight, year)
		if err != nil {
			return nil, err
		}
		initial = col.Float64s()
		s.initialWeights[key] = initial
	}

	cols := make([]*frame.Column, 0, len(opts.Margins))
	for _, m := range opts.Margins {
		v, err := sys.MustVariable(m.Variable)
		if err != nil {
			return nil, err
		}
		if v.Entity != entity {
			return nil, errors.Wrapf(ErrEntityMismatch, "margin variable %s belongs to %s, weights to %s",
				m.Variable, v.Entity, entity)
		}
		var col *frame.Column
		if m.Categories != nil {
			col, err = sim.Calculate(m.Variable, year)
		} else {
			col, err = sim.CalculateAdd(m.Variable, year)
		}
		if err != nil {
			return nil, err
		}
		cols = append(cols, col.Rename(m.Variable))
	}
	data, err := frame.New(cols...)
	if err != nil {
		return nil, err
	}

	cal, err := calibration.New(data, initial, params)
	if err != nil {
		return nil, err
	}
	cal.TotalPopulation = opts.TotalPopulation
	if err := cal.SetTargetMargins(opts.Margins...); err != nil {
		return nil, err
	}
	res, err := cal.Calibrate()
	if err != nil {
		return nil, errors.Wrapf(err, "calibrate %s", weight)
	}

	if err := sim.SetInput(weight, year, frame.NewFloat(weight, res.Weights, nil)); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("calibrated weights stored",
		"weight", weight, "entity", entity, "method", string(params.Method), "iterations", res.Iterations)
	return res, nil
}

// InitialWeights returns the weights of an entity before its first
// calibration, or nil when it was never calibrated.
func (s *Scenario) InitialWeights(entity string, reference bool) []float64 {
	return s.initialWeights[weightsKey(entity, reference)]
}

func weightsKey(entity string, reference bool) string {
	if reference {
		return entity + "/reference"
	}
	return entity
}
