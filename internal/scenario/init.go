package scenario

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/logging"
	"github.com/JonMunkholm/survey-manager/internal/period"
	"github.com/JonMunkholm/survey-manager/internal/simulation"
	"github.com/JonMunkholm/survey-manager/internal/tbs"
)

// FilterInputVariables drops the columns a simulation must not take as
// input: columns unknown to the system and columns of derived variables
// not listed in usedAsInput. Identifier and role columns are kept. The
// input frame is left unchanged.
func FilterInputVariables(ctx context.Context, sys *tbs.System, fr *frame.Frame, usedAsInput []string) *frame.Frame {
	logger := logging.FromContext(ctx)
	logger.Debug("filtering input variables", "used_as_input", usedAsInput)

	overrides := set(usedAsInput)
	var drop []string
	for _, name := range fr.Names() {
		if sys.IsStructural(name) {
			continue
		}
		v, ok := sys.Variable(name)
		if !ok {
			logger.Info("unknown column in survey, dropped from input table", "column", name)
			drop = append(drop, name)
			continue
		}
		switch v.EffectiveClass(overrides) {
		case tbs.Derived:
			logger.Info("column set to be calculated, dropped from input table", "column", name)
			drop = append(drop, name)
		case tbs.DerivedButOverridable:
			if overrides[name] {
				logger.Info("column kept because used as input", "column", name)
			}
		}
	}

	out := fr.Drop(drop...)
	logger.Info("keeping input variables", "columns", out.Names())
	return out
}

// resolved is the membership read from a person table.
type resolved struct {
	persons int
	// roleZero flags, per group entity, the rows of reference members.
	roleZero map[string][]bool
}

// resolveEntities computes the size and membership of every entity from a
// flat person table and sets them on sim.
func resolveEntities(sim *simulation.Simulation, fr *frame.Frame) (*resolved, error) {
	sys := sim.System()
	res := &resolved{persons: fr.Len(), roleZero: make(map[string][]bool)}
	if err := checkPersons(sim, res.persons); err != nil {
		return nil, err
	}
	sim.SetPersons(res.persons)

	for _, e := range sys.GroupEntities() {
		ids, err := idLabels(fr, e.IDColumn)
		if err != nil {
			return nil, err
		}
		roles, err := intValues(fr, e.RoleColumn)
		if err != nil {
			return nil, err
		}

		// Groups are numbered in the order their reference member appears.
		index := make(map[string]int)
		roleZero := make([]bool, len(roles))
		maxRole := 0
		for i, r := range roles {
			if r < 0 {
				return nil, errors.Wrapf(ErrDataConsistency, "%s: negative role %d at row %d", e.RoleColumn, r, i)
			}
			if r > maxRole {
				maxRole = r
			}
			if r != 0 {
				continue
			}
			roleZero[i] = true
			if _, dup := index[ids[i]]; dup {
				return nil, errors.Wrapf(ErrDataConsistency, "%s %s has more than one person of role 0", e.Key, ids[i])
			}
			index[ids[i]] = len(index)
		}

		unique := make(map[string]bool, len(index))
		for _, id := range ids {
			unique[id] = true
		}
		count := len(index)
		if count != len(unique) {
			return nil, errors.WithDetailf(
				errors.Wrapf(ErrDataConsistency, "there are %d persons of role 0 in %s but %d %s",
					count, e.Key, len(unique), e.Key),
				"identifier column %s, role column %s", e.IDColumn, e.RoleColumn)
		}

		membersIndex := make([]int, len(ids))
		for i, id := range ids {
			membersIndex[i] = index[id]
		}
		if err := checkGroup(sim, e.Key, count); err != nil {
			return nil, err
		}
		if err := sim.SetGroup(e.Key, count, maxRole+1, membersIndex, roles); err != nil {
			return nil, err
		}
		res.roleZero[e.Key] = roleZero
	}
	return res, nil
}

// checkPersons rejects a person table whose size differs from the one a
// previous period initialized the simulation with.
func checkPersons(sim *simulation.Simulation, n int) error {
	st, err := sim.Entity(sim.System().PersonEntity().Key)
	if err != nil {
		return err
	}
	if st.Count != 0 && st.Count != n {
		return errors.Wrapf(ErrDataConsistency, "%d persons in input table, simulation already has %d", n, st.Count)
	}
	return nil
}

func checkGroup(sim *simulation.Simulation, key string, n int) error {
	st, err := sim.Entity(key)
	if err != nil {
		return err
	}
	if st.MembersIndex != nil && st.Count != n {
		return errors.Wrapf(ErrDataConsistency, "%d %s in input table, simulation already has %d", n, key, st.Count)
	}
	return nil
}

func requireColumn(fr *frame.Frame, name string) (*frame.Column, error) {
	col, ok := fr.Column(name)
	if !ok {
		return nil, errors.WithDetailf(
			errors.Wrapf(frame.ErrColumnNotFound, "variable %s is not present in input table", name),
			"columns: %v", fr.Names())
	}
	return col, nil
}

func idLabels(fr *frame.Frame, name string) ([]string, error) {
	col, err := requireColumn(fr, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, col.Len())
	for i := range out {
		v := col.Value(i)
		if v == nil {
			return nil, errors.Wrapf(ErrDataConsistency, "%s: missing identifier at row %d", name, i)
		}
		out[i] = fmt.Sprint(v)
	}
	return out, nil
}

func intValues(fr *frame.Frame, name string) ([]int, error) {
	col, err := requireColumn(fr, name)
	if err != nil {
		return nil, err
	}
	if col.HasMissing() {
		return nil, errors.Wrapf(ErrDataConsistency, "%s has %d missing values", name, col.CountMissing())
	}
	if col.Kind() == frame.Float {
		for i, v := range col.Floats() {
			if v != math.Trunc(v) {
				return nil, errors.Wrapf(ErrDataConsistency, "%s: %v at row %d is not a whole number", name, v, i)
			}
		}
	}
	cast, err := col.Cast(frame.Int)
	if err != nil {
		return nil, err
	}
	out := make([]int, cast.Len())
	for i, v := range cast.Ints() {
		out[i] = int(v)
	}
	return out, nil
}

// coerce prepares a column for a holder: the column is cast to the
// variable's value type, then missing values of numeric data are replaced
// by the variable's default. Blank strings read as numbers count as
// missing.
func coerce(ctx context.Context, col *frame.Column, v *tbs.Variable) (*frame.Column, error) {
	logger := logging.FromContext(ctx)
	if col.Kind() != v.ValueType {
		logger.Info("converting column", "variable", v.Name, "from", col.Kind().String(), "to", v.ValueType.String())
	}

	cast, err := col.Cast(v.ValueType)
	if err != nil {
		return nil, errors.Wrapf(err, "convert %s to %s", v.Name, v.ValueType)
	}

	if cast.HasMissing() && (numeric(col.Kind()) || numeric(v.ValueType)) {
		missing := cast.CountMissing()
		logger.Info("replacing missing values with the variable default",
			"variable", v.Name, "missing", missing, "present", cast.Len()-missing, "default", v.DefaultFloat())
		cast, _ = cast.FillMissing(v.DefaultFloat())
		if cast.HasMissing() {
			return nil, errors.Newf("there are %d missing values left in variable %s", cast.CountMissing(), v.Name)
		}
	}
	return cast, nil
}

func numeric(k frame.Kind) bool { return k == frame.Float || k == frame.Int }

// InitSimulationWithFrame sets the input of sim for period p from a flat
// table with one row per person. Group variables are read on the rows of
// reference members.
func InitSimulationWithFrame(ctx context.Context, sim *simulation.Simulation, fr *frame.Frame, p period.Period, usedAsInput []string) error {
	logger := logging.WithFields(ctx, "period", p.String())
	sys := sim.System()

	var mismatch []string
	for _, name := range usedAsInput {
		if !fr.Has(name) {
			mismatch = append(mismatch, name)
		}
	}
	if len(mismatch) > 0 {
		sort.Strings(mismatch)
		logger.Info("variables used as input are not present in the input table",
			"missing", mismatch, "used_as_input", usedAsInput, "columns", fr.Names())
	}

	for _, e := range sys.GroupEntities() {
		for _, name := range []string{e.IDColumn, e.RoleColumn} {
			if _, err := requireColumn(fr, name); err != nil {
				return err
			}
		}
	}

	fr = FilterInputVariables(ctx, sys, fr, usedAsInput)
	res, err := resolveEntities(sim, fr)
	if err != nil {
		return err
	}

	for _, col := range fr.Columns() {
		if sys.IsStructural(col.Name()) {
			continue
		}
		v, _ := sys.Variable(col.Name())
		st, err := sim.Entity(v.Entity)
		if err != nil {
			return err
		}

		arr, err := coerce(ctx, col, v)
		if err != nil {
			return err
		}
		if !st.Entity.IsPerson {
			if arr, err = arr.Filter(res.roleZero[st.Entity.Key]); err != nil {
				return err
			}
		}
		if arr.Len() != st.Count {
			return errors.Wrapf(ErrSizeMismatch, "bad size for %s: %d instead of %d", v.Name, arr.Len(), st.Count)
		}
		if err := sim.SetInput(v.Name, p, arr); err != nil {
			return err
		}
	}
	return nil
}

// InitSimulationWithFrameByEntity sets the input of sim for period p from
// one table per entity. The person table carries the identifier and role
// columns of every group entity; each group table carries its identifier
// column, its rows being the groups in order.
func InitSimulationWithFrameByEntity(ctx context.Context, sim *simulation.Simulation, frames map[string]*frame.Frame, p period.Period, usedAsInput []string) error {
	sys := sim.System()
	person := sys.PersonEntity()
	persons, ok := frames[person.Key]
	if !ok {
		return errors.Newf("no input table for entity %s", person.Key)
	}
	if err := checkPersons(sim, persons.Len()); err != nil {
		return err
	}
	sim.SetPersons(persons.Len())

	for _, e := range sys.GroupEntities() {
		groups, ok := frames[e.Key]
		if !ok {
			return errors.Newf("no input table for entity %s", e.Key)
		}
		groupIDs, err := idLabels(groups, e.IDColumn)
		if err != nil {
			return errors.Wrapf(err, "%s table", e.Key)
		}
		index := make(map[string]int, len(groupIDs))
		for i, id := range groupIDs {
			if _, dup := index[id]; dup {
				return errors.Wrapf(ErrDataConsistency, "%s %s appears twice in the %s table", e.IDColumn, id, e.Key)
			}
			index[id] = i
		}

		ids, err := idLabels(persons, e.IDColumn)
		if err != nil {
			return err
		}
		roles, err := intValues(persons, e.RoleColumn)
		if err != nil {
			return err
		}
		membersIndex := make([]int, len(ids))
		reference := make([]int, groups.Len())
		maxRole := 0
		for i, id := range ids {
			g, ok := index[id]
			if !ok {
				return errors.Wrapf(ErrDataConsistency, "person %d belongs to %s %s absent from the %s table", i, e.IDColumn, id, e.Key)
			}
			if roles[i] < 0 {
				return errors.Wrapf(ErrDataConsistency, "%s: negative role %d at row %d", e.RoleColumn, roles[i], i)
			}
			membersIndex[i] = g
			if roles[i] == 0 {
				reference[g]++
			}
			if roles[i] > maxRole {
				maxRole = roles[i]
			}
		}
		if withMembers := len(set(ids)); withMembers != groups.Len() {
			return errors.Wrapf(ErrSizeMismatch, "the %s table has %d rows but persons belong to %d %s",
				e.Key, groups.Len(), withMembers, e.Key)
		}
		for g, n := range reference {
			if n != 1 {
				return errors.Wrapf(ErrDataConsistency, "%s %s has %d persons of role 0", e.Key, groupIDs[g], n)
			}
		}
		if err := checkGroup(sim, e.Key, groups.Len()); err != nil {
			return err
		}
		if err := sim.SetGroup(e.Key, groups.Len(), maxRole+1, membersIndex, roles); err != nil {
			return err
		}
	}

	for _, e := range sys.Entities() {
		fr := FilterInputVariables(ctx, sys, frames[e.Key], usedAsInput)
		st, err := sim.Entity(e.Key)
		if err != nil {
			return err
		}
		for _, col := range fr.Columns() {
			if sys.IsStructural(col.Name()) {
				continue
			}
			v, _ := sys.Variable(col.Name())
			if v.Entity != e.Key {
				return errors.Wrapf(ErrEntityMismatch, "variable %s of entity %s found in the %s table", v.Name, v.Entity, e.Key)
			}
			arr, err := coerce(ctx, col, v)
			if err != nil {
				return err
			}
			if arr.Len() != st.Count {
				return errors.Wrapf(ErrSizeMismatch, "bad size for %s: %d instead of %d", v.Name, arr.Len(), st.Count)
			}
			if err := sim.SetInput(v.Name, p, arr); err != nil {
				return err
			}
		}
	}
	return nil
}
