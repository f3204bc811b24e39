// Package tbs declares a tax-benefit system: the entities persons are
// grouped in and the variables defined on them.
//
// Every variable carries an explicit class telling whether survey data may
// provide it (Input), whether it is always computed (Derived), or whether it
// is computed unless the data provides it (DerivedButOverridable).
package tbs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/period"
)

var (
	// ErrUnknownVariable is returned when a variable is not declared in the
	// system.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrUnknownEntity is returned when an entity key is not declared in the
	// system.
	ErrUnknownEntity = errors.New("unknown entity")
)

// Class tells how a variable gets its values.
type Class int

const (
	// Input variables are only ever provided by data.
	Input Class = iota
	// Derived variables are always computed; data for them is dropped.
	Derived
	// DerivedButOverridable variables are computed unless data provides them.
	DerivedButOverridable
)

func (c Class) String() string {
	switch c {
	case Input:
		return "input"
	case Derived:
		return "derived"
	case DerivedButOverridable:
		return "derived_but_overridable"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Entity is a level persons are grouped at.
type Entity struct {
	Key      string
	Label    string
	IsPerson bool

	// IDColumn and RoleColumn name the columns of a person-level table
	// holding, for each person, the identifier of their group and their
	// role in it (0 for the reference member). Unused for persons.
	IDColumn   string
	RoleColumn string
}

// Calculator gives formulas access to the other variables of a simulation.
type Calculator interface {
	Calculate(variable string, p period.Period) (*frame.Column, error)
	CalculateAdd(variable string, p period.Period) (*frame.Column, error)
	Count(entity string) (int, error)
	// Sum adds a person variable over the members of each group of entity.
	Sum(variable, entity string, p period.Period) (*frame.Column, error)
}

// Formula computes a variable for one period. The returned column must have
// one value per member of the variable's entity.
type Formula func(c Calculator, p period.Period) (*frame.Column, error)

// Variable is one declared variable.
type Variable struct {
	Name      string
	Label     string
	Entity    string
	ValueType frame.Kind
	// Default is the value missing entries are filled with. A nil Default
	// is the zero value of ValueType.
	Default any
	Class   Class
	// DefinitionPeriod is the period the variable is defined for; Year
	// unless set.
	DefinitionPeriod period.Unit
	Formula          Formula
}

// EffectiveClass returns the class of v for a run that uses the given
// variables as input: a Derived variable used as input is overridable.
func (v *Variable) EffectiveClass(usedAsInput map[string]bool) Class {
	if v.Class == Derived && usedAsInput[v.Name] {
		return DerivedButOverridable
	}
	return v.Class
}

// DefaultFloat returns the default as a float64, for filling missing
// values of numeric columns.
func (v *Variable) DefaultFloat() float64 {
	switch d := v.Default.(type) {
	case float64:
		return d
	case int64:
		return float64(d)
	case bool:
		if d {
			return 1
		}
	}
	return 0
}

// DefaultColumn returns a column of n default values.
func (v *Variable) DefaultColumn(n int) *frame.Column {
	switch v.ValueType {
	case frame.Int:
		vals := make([]int64, n)
		if d, ok := v.Default.(int64); ok {
			for i := range vals {
				vals[i] = d
			}
		}
		return frame.NewInt(v.Name, vals, nil)
	case frame.Bool:
		vals := make([]bool, n)
		if d, ok := v.Default.(bool); ok && d {
			for i := range vals {
				vals[i] = true
			}
		}
		return frame.NewBool(v.Name, vals, nil)
	case frame.String:
		vals := make([]string, n)
		if d, ok := v.Default.(string); ok {
			for i := range vals {
				vals[i] = d
			}
		}
		return frame.NewString(v.Name, vals, nil)
	default:
		vals := make([]float64, n)
		d := v.DefaultFloat()
		for i := range vals {
			vals[i] = d
		}
		return frame.NewFloat(v.Name, vals, nil)
	}
}

// normalizeDefault converts Default to the Go type of ValueType.
func (v *Variable) normalizeDefault() error {
	if v.Default == nil {
		return nil
	}
	var ok bool
	switch v.ValueType {
	case frame.Float:
		switch d := v.Default.(type) {
		case float64:
			ok = true
		case float32:
			v.Default, ok = float64(d), true
		case int:
			v.Default, ok = float64(d), true
		case int64:
			v.Default, ok = float64(d), true
		}
	case frame.Int:
		switch d := v.Default.(type) {
		case int64:
			ok = true
		case int:
			v.Default, ok = int64(d), true
		case int32:
			v.Default, ok = int64(d), true
		}
	case frame.Bool:
		_, ok = v.Default.(bool)
	case frame.String:
		_, ok = v.Default.(string)
	}
	if !ok {
		return errors.Newf("variable %s: default %v (%T) does not match value type %s",
			v.Name, v.Default, v.Default, v.ValueType)
	}
	return nil
}

// System is a set of entities and the variables defined on them. A system
// may point to the reference system it is a reform of.
type System struct {
	Name string

	entities    []*Entity
	variables   map[string]*Variable
	neutralized map[string]bool
	reference   *System
}

// NewSystem returns a system over the given entities. Exactly one of them
// must be the person entity, and group entities need identifier and role
// columns.
func NewSystem(name string, entities ...*Entity) (*System, error) {
	s := &System{
		Name:        name,
		variables:   make(map[string]*Variable),
		neutralized: make(map[string]bool),
	}
	seen := make(map[string]bool, len(entities))
	persons := 0
	for _, e := range entities {
		if e.Key == "" {
			return nil, errors.New("an entity needs a key")
		}
		if seen[e.Key] {
			return nil, errors.Newf("entity %s declared twice", e.Key)
		}
		seen[e.Key] = true
		if e.IsPerson {
			persons++
			continue
		}
		if e.IDColumn == "" || e.RoleColumn == "" {
			return nil, errors.Newf("entity %s needs an identifier and a role column", e.Key)
		}
	}
	if persons != 1 {
		return nil, errors.Newf("system %s: %d person entities, want exactly one", name, persons)
	}
	s.entities = entities
	return s, nil
}

// AddVariables declares variables. Names must be unique and entities known.
func (s *System) AddVariables(vars ...Variable) error {
	for i := range vars {
		v := vars[i]
		if v.Name == "" {
			return errors.New("a variable needs a name")
		}
		if _, dup := s.variables[v.Name]; dup {
			return errors.Newf("variable %s declared twice", v.Name)
		}
		if _, ok := s.Entity(v.Entity); !ok {
			return errors.Wrapf(ErrUnknownEntity, "variable %s: entity %q", v.Name, v.Entity)
		}
		if v.Class != Input && v.Formula == nil {
			return errors.Newf("variable %s is %s but has no formula", v.Name, v.Class)
		}
		if err := v.normalizeDefault(); err != nil {
			return err
		}
		s.variables[v.Name] = &v
	}
	return nil
}

// Entities returns the entities in declaration order.
func (s *System) Entities() []*Entity { return s.entities }

// Entity returns the entity of the given key.
func (s *System) Entity(key string) (*Entity, bool) {
	for _, e := range s.entities {
		if e.Key == key {
			return e, true
		}
	}
	return nil, false
}

// PersonEntity returns the person entity.
func (s *System) PersonEntity() *Entity {
	for _, e := range s.entities {
		if e.IsPerson {
			return e
		}
	}
	return nil
}

// GroupEntities returns the non-person entities in declaration order.
func (s *System) GroupEntities() []*Entity {
	var out []*Entity
	for _, e := range s.entities {
		if !e.IsPerson {
			out = append(out, e)
		}
	}
	return out
}

// IsStructural reports whether name is the identifier or role column of a
// group entity.
func (s *System) IsStructural(name string) bool {
	for _, e := range s.GroupEntities() {
		if name == e.IDColumn || name == e.RoleColumn {
			return true
		}
	}
	return false
}

// Variable returns the declared variable of the given name.
func (s *System) Variable(name string) (*Variable, bool) {
	v, ok := s.variables[name]
	return v, ok
}

// MustVariable returns the variable of the given name or ErrUnknownVariable.
func (s *System) MustVariable(name string) (*Variable, error) {
	v, ok := s.variables[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownVariable, "%q is not a variable of %s", name, s.Name)
	}
	return v, nil
}

// VariableNames returns the declared variable names, sorted.
func (s *System) VariableNames() []string {
	names := make([]string, 0, len(s.variables))
	for n := range s.variables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Neutralize makes a variable always take its default value.
func (s *System) Neutralize(name string) error {
	if _, err := s.MustVariable(name); err != nil {
		return err
	}
	s.neutralized[name] = true
	return nil
}

// IsNeutralized reports whether a variable was neutralized.
func (s *System) IsNeutralized(name string) bool { return s.neutralized[name] }

// Neutralized returns the neutralized variables, sorted.
func (s *System) Neutralized() []string {
	names := make([]string, 0, len(s.neutralized))
	for n := range s.neutralized {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reference returns the system s is a reform of, or nil.
func (s *System) Reference() *System { return s.reference }

// Root follows the reference chain to the system no reform is based on.
func (s *System) Root() *System {
	root := s
	for root.reference != nil {
		root = root.reference
	}
	return root
}

// Clone returns a copy of s sharing its entities and variable
// declarations but with its own neutralizations.
func (s *System) Clone() *System {
	c := &System{
		Name:        s.Name,
		entities:    s.entities,
		variables:   make(map[string]*Variable, len(s.variables)),
		neutralized: make(map[string]bool, len(s.neutralized)),
		reference:   s.reference,
	}
	for n, v := range s.variables {
		c.variables[n] = v
	}
	for n := range s.neutralized {
		c.neutralized[n] = true
	}
	return c
}

// Reform returns a system derived from s whose reference is s. The given
// variables replace (or add to) the declarations of s.
func (s *System) Reform(name string, vars ...Variable) (*System, error) {
	r := s.Clone()
	r.Name = name
	r.reference = s
	for _, v := range vars {
		delete(r.variables, v.Name)
	}
	if err := r.AddVariables(vars...); err != nil {
		return nil, errors.Wrapf(err, "reform %s", name)
	}
	return r, nil
}

func (s *System) String() string {
	keys := make([]string, len(s.entities))
	for i, e := range s.entities {
		keys[i] = e.Key
	}
	return fmt.Sprintf("%s (entities: %s, %d variables)", s.Name, strings.Join(keys, ", "), len(s.variables))
}
