package scenario

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/logging"
	"github.com/JonMunkholm/survey-manager/internal/period"
	"github.com/JonMunkholm/survey-manager/internal/survey"
)

// FrameOptions control CreateFrameByEntity.
type FrameOptions struct {
	// Period defaults to the scenario year.
	Period    period.Period
	Reference bool
	// Roles adds the identifier and role columns of every group entity, so
	// that the tables can be fed back with InitFromFrameByEntity.
	Roles bool
}

// CreateFrameByEntity computes variables and returns them as one table per
// entity, keyed by entity key. Entities with no requested variable are
// left out unless Roles is set.
func (s *Scenario) CreateFrameByEntity(ctx context.Context, variables []string, opts FrameOptions) (map[string]*frame.Frame, error) {
	if opts.Period.IsZero() {
		opts.Period = s.cfg.Period()
	}
	sim, err := s.Simulation(ctx, opts.Reference)
	if err != nil {
		return nil, err
	}
	sys := sim.System()

	columns := make(map[string][]*frame.Column)
	if opts.Roles {
		for _, e := range sys.GroupEntities() {
			st, err := sim.Entity(e.Key)
			if err != nil {
				return nil, err
			}
			columns[sys.PersonEntity().Key] = append(columns[sys.PersonEntity().Key],
				intColumn(e.IDColumn, st.MembersIndex), intColumn(e.RoleColumn, st.MembersRole))
			ids := make([]int, st.Count)
			for i := range ids {
				ids[i] = i
			}
			columns[e.Key] = append(columns[e.Key], intColumn(e.IDColumn, ids))
		}
	}

	for _, name := range variables {
		v, err := sys.MustVariable(name)
		if err != nil {
			return nil, err
		}
		col, err := sim.CalculateAdd(name, opts.Period)
		if err != nil {
			return nil, err
		}
		columns[v.Entity] = append(columns[v.Entity], col.Rename(name))
	}

	out := make(map[string]*frame.Frame, len(columns))
	for key, cols := range columns {
		fr, err := frame.New(cols...)
		if err != nil {
			return nil, errors.Wrapf(err, "table of entity %s", key)
		}
		out[key] = fr
	}
	return out, nil
}

func intColumn(name string, values []int) *frame.Column {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return frame.NewInt(name, out, nil)
}

// DumpFrameByEntity stores the tables of CreateFrameByEntity, with roles,
// in a survey of coll, one table per entity, then dumps the collection.
// The survey is created when coll does not have it.
func (s *Scenario) DumpFrameByEntity(ctx context.Context, variables []string, coll *survey.Collection, surveyName string) error {
	frames, err := s.CreateFrameByEntity(ctx, variables, FrameOptions{Roles: true})
	if err != nil {
		return err
	}

	sv, err := coll.Survey(surveyName)
	if errors.Is(err, survey.ErrSurveyNotFound) {
		if sv, err = survey.New(surveyName, surveyName, nil); err == nil {
			coll.AddSurvey(sv)
		}
	}
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(frames))
	for k := range frames {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logger := logging.WithFields(ctx, "survey", surveyName, "collection", coll.Name)
	for _, key := range keys {
		if err := sv.InsertTable(ctx, key, key, frames[key], map[string]any{"entity": key}); err != nil {
			return err
		}
		logger.Info("entity table dumped", "entity", key, "rows", frames[key].Len())
	}
	return coll.Dump()
}
