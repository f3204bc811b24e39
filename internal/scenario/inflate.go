package scenario

import (
	"context"
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/logging"
)

// Inflate multiplies variables of both the current and reference
// simulations. A variable with a target total is scaled so that its
// weighted sum reaches the target; otherwise it is multiplied by its
// inflator. It returns the inflators applied to the current simulation.
func (s *Scenario) Inflate(ctx context.Context, inflators, targets map[string]float64) (map[string]float64, error) {
	names := make([]string, 0, len(inflators)+len(targets))
	for n := range inflators {
		names = append(names, n)
	}
	for n := range targets {
		if _, ok := inflators[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	applied := make(map[string]float64, len(names))
	for _, reference := range []bool{false, true} {
		sim, err := s.Simulation(ctx, reference)
		if err != nil {
			return nil, err
		}
		logger := logging.WithFields(ctx, "reference", reference)
		for _, name := range names {
			if _, err := sim.System().MustVariable(name); err != nil {
				return nil, err
			}

			f := inflators[name]
			if target, ok := targets[name]; ok {
				total, err := s.ComputeAggregate(ctx, name, Sum, "", s.cfg.Period(), reference)
				if err != nil {
					return nil, err
				}
				if total == 0 || math.IsNaN(total) {
					return nil, errors.Newf("cannot inflate %s to %v: its total is %v", name, target, total)
				}
				f = target / total
			}

			// Computed values are stored in the holder before scaling.
			if _, err := sim.CalculateAdd(name, s.cfg.Period()); err != nil {
				return nil, err
			}
			h, err := sim.Holder(name)
			if err != nil {
				return nil, err
			}
			logger.Info("inflating variable", "variable", name, "inflator", f)
			if err := h.Scale(f); err != nil {
				return nil, err
			}
			if !reference {
				applied[name] = f
			}
		}
	}
	return applied, nil
}
