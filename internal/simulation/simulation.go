// Package simulation holds the state of one run of a tax-benefit system:
// the size and membership of every entity, and the values of variables by
// period.
package simulation

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/period"
	"github.com/JonMunkholm/survey-manager/internal/tbs"
)

var (
	// ErrSizeMismatch is returned when an array does not have one value per
	// member of its entity.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrEntityNotInitialized is returned when values are read or set on an
	// entity whose size is not known yet.
	ErrEntityNotInitialized = errors.New("entity not initialized")

	// ErrCycle is returned when a formula depends on itself.
	ErrCycle = errors.New("circular definition")
)

// EntityState is the size and membership of an entity in a simulation.
type EntityState struct {
	Entity *tbs.Entity

	// Count is the number of members: persons for the person entity,
	// groups otherwise.
	Count int

	// RolesCount is the maximum role plus one. Unused for persons.
	RolesCount int

	// MembersIndex gives, for each person, the 0-based index of the group
	// they belong to. MembersRole gives their role in it. Unused for
	// persons.
	MembersIndex []int
	MembersRole  []int
}

func (e *EntityState) initialized() bool { return e.Count > 0 || e.MembersIndex != nil }

type calcKey struct {
	variable string
	period   period.Period
}

// Simulation is one run of a tax-benefit system.
type Simulation struct {
	system   *tbs.System
	period   period.Period
	entities map[string]*EntityState
	holders  map[string]*Holder
	running  map[calcKey]bool
}

// New returns an empty simulation of system for the period p.
func New(system *tbs.System, p period.Period) *Simulation {
	s := &Simulation{
		system:   system,
		period:   p,
		entities: make(map[string]*EntityState),
		holders:  make(map[string]*Holder),
		running:  make(map[calcKey]bool),
	}
	for _, e := range system.Entities() {
		s.entities[e.Key] = &EntityState{Entity: e}
	}
	return s
}

// System returns the tax-benefit system the simulation runs.
func (s *Simulation) System() *tbs.System { return s.system }

// Period returns the simulation period.
func (s *Simulation) Period() period.Period { return s.period }

// Entity returns the state of an entity.
func (s *Simulation) Entity(key string) (*EntityState, error) {
	st, ok := s.entities[key]
	if !ok {
		return nil, errors.Wrapf(tbs.ErrUnknownEntity, "%q", key)
	}
	return st, nil
}

// Count returns the number of members of an entity.
func (s *Simulation) Count(entity string) (int, error) {
	st, err := s.Entity(entity)
	if err != nil {
		return 0, err
	}
	return st.Count, nil
}

// SetPersons sets the number of persons.
func (s *Simulation) SetPersons(n int) {
	s.entities[s.system.PersonEntity().Key].Count = n
}

// SetGroup sets the size and membership of a group entity. The persons
// count must be set first; index and roles have one entry per person.
func (s *Simulation) SetGroup(key string, count, rolesCount int, membersIndex, membersRole []int) error {
	st, err := s.Entity(key)
	if err != nil {
		return err
	}
	if st.Entity.IsPerson {
		return errors.Newf("%s is the person entity", key)
	}
	persons := s.entities[s.system.PersonEntity().Key].Count
	if len(membersIndex) != persons || len(membersRole) != persons {
		return errors.Wrapf(ErrSizeMismatch, "entity %s: %d indices and %d roles for %d persons",
			key, len(membersIndex), len(membersRole), persons)
	}
	for _, idx := range membersIndex {
		if idx < 0 || idx >= count {
			return errors.Newf("entity %s: member index %d out of range [0, %d)", key, idx, count)
		}
	}
	st.Count = count
	st.RolesCount = rolesCount
	st.MembersIndex = membersIndex
	st.MembersRole = membersRole
	return nil
}

// Holder returns the holder of a variable, creating it if needed.
func (s *Simulation) Holder(name string) (*Holder, error) {
	if h, ok := s.holders[name]; ok {
		return h, nil
	}
	v, err := s.system.MustVariable(name)
	if err != nil {
		return nil, err
	}
	st, err := s.Entity(v.Entity)
	if err != nil {
		return nil, err
	}
	h := &Holder{variable: v, entity: st, arrays: make(map[period.Period]*frame.Column)}
	s.holders[name] = h
	return h, nil
}

// HolderNames returns the variables holding at least one column, sorted.
func (s *Simulation) HolderNames() []string {
	names := make([]string, 0, len(s.holders))
	for n, h := range s.holders {
		if len(h.arrays) > 0 {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// SetInput stores the values of a variable for p.
func (s *Simulation) SetInput(name string, p period.Period, col *frame.Column) error {
	h, err := s.Holder(name)
	if err != nil {
		return err
	}
	if !h.entity.initialized() {
		return errors.Wrapf(ErrEntityNotInitialized, "entity %s of %s", h.entity.Entity.Key, name)
	}
	if s.system.IsNeutralized(name) {
		slog.Debug("input ignored for neutralized variable", "variable", name, "period", p.String())
		return nil
	}
	return h.SetInput(p, col)
}

// Calculate returns the values of a variable for p: stored input, the
// result of its formula, or its default.
func (s *Simulation) Calculate(name string, p period.Period) (*frame.Column, error) {
	if p.IsZero() {
		p = s.period
	}
	h, err := s.Holder(name)
	if err != nil {
		return nil, err
	}
	v := h.variable
	if s.system.IsNeutralized(name) {
		return v.DefaultColumn(h.entity.Count), nil
	}
	if c, ok := h.Get(p); ok {
		return c, nil
	}
	if v.Class == tbs.Input || v.Formula == nil {
		return v.DefaultColumn(h.entity.Count), nil
	}

	key := calcKey{variable: name, period: p}
	if s.running[key] {
		return nil, errors.Wrapf(ErrCycle, "%s for %s", name, p)
	}
	s.running[key] = true
	defer delete(s.running, key)

	col, err := v.Formula(s, p)
	if err != nil {
		return nil, errors.Wrapf(err, "compute %s for %s", name, p)
	}
	if err := h.SetInput(p, col); err != nil {
		return nil, err
	}
	c, _ := h.Get(p)
	return c, nil
}

// CalculateAdd returns the values of a variable summed over the months of
// p when the variable is monthly, or when only monthly values were given
// for it. Otherwise it is Calculate.
func (s *Simulation) CalculateAdd(name string, p period.Period) (*frame.Column, error) {
	if p.IsZero() {
		p = s.period
	}
	h, err := s.Holder(name)
	if err != nil {
		return nil, err
	}
	if c, ok := h.Get(p); ok && !s.system.IsNeutralized(name) {
		return c, nil
	}
	if p.Unit() == period.Month {
		return s.Calculate(name, p)
	}

	var months []period.Period
	switch {
	case h.variable.DefinitionPeriod == period.Month:
		months = p.Months()
	case !s.system.IsNeutralized(name):
		for _, m := range p.Months() {
			if _, ok := h.Get(m); ok {
				months = append(months, m)
			}
		}
	}
	if len(months) == 0 {
		return s.Calculate(name, p)
	}

	sum := make([]float64, h.entity.Count)
	for _, m := range months {
		c, err := s.Calculate(name, m)
		if err != nil {
			return nil, err
		}
		for i, x := range c.Float64s() {
			sum[i] += x
		}
	}
	return frame.NewFloat(name, sum, nil), nil
}

// Sum adds the values of a person variable over the members of each group
// of entity.
func (s *Simulation) Sum(name, entity string, p period.Period) (*frame.Column, error) {
	st, err := s.Entity(entity)
	if err != nil {
		return nil, err
	}
	col, err := s.Calculate(name, p)
	if err != nil {
		return nil, err
	}
	if st.Entity.IsPerson {
		return col, nil
	}
	if col.Len() != len(st.MembersIndex) {
		return nil, errors.Wrapf(ErrSizeMismatch, "%s is not a person variable", name)
	}
	sum := make([]float64, st.Count)
	for i, x := range col.Float64s() {
		sum[st.MembersIndex[i]] += x
	}
	return frame.NewFloat(name, sum, nil), nil
}

// ProjectOnPersons repeats the value of a group variable for every member.
func (s *Simulation) ProjectOnPersons(name string, p period.Period) (*frame.Column, error) {
	h, err := s.Holder(name)
	if err != nil {
		return nil, err
	}
	col, err := s.Calculate(name, p)
	if err != nil {
		return nil, err
	}
	if h.entity.Entity.IsPerson {
		return col, nil
	}
	return col.Take(h.entity.MembersIndex), nil
}

func (s *Simulation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.system.Name, s.period)
	for _, e := range s.system.Entities() {
		fmt.Fprintf(&b, " %s=%d", e.Key, s.entities[e.Key].Count)
	}
	return b.String()
}
