package tbs

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/period"
)

func entities() []*Entity {
	return []*Entity{
		{Key: "individu", IsPerson: true},
		{Key: "menage", IDColumn: "idmen", RoleColumn: "quimen"},
		{Key: "famille", IDColumn: "idfam", RoleColumn: "quifam"},
	}
}

func zero(c Calculator, p period.Period) (*frame.Column, error) {
	n, err := c.Count("individu")
	if err != nil {
		return nil, err
	}
	return frame.NewFloat("x", make([]float64, n), nil), nil
}

func TestNewSystem(t *testing.T) {
	sys, err := NewSystem("france", entities()...)
	require.NoError(t, err)
	assert.Equal(t, "individu", sys.PersonEntity().Key)
	assert.Len(t, sys.GroupEntities(), 2)
	assert.True(t, sys.IsStructural("idmen"))
	assert.True(t, sys.IsStructural("quifam"))
	assert.False(t, sys.IsStructural("salaire"))

	_, err = NewSystem("none", &Entity{Key: "menage", IDColumn: "idmen", RoleColumn: "quimen"})
	assert.Error(t, err)

	_, err = NewSystem("two", &Entity{Key: "a", IsPerson: true}, &Entity{Key: "b", IsPerson: true})
	assert.Error(t, err)

	_, err = NewSystem("noid", &Entity{Key: "a", IsPerson: true}, &Entity{Key: "menage"})
	assert.Error(t, err)
}

func TestAddVariables(t *testing.T) {
	sys, err := NewSystem("france", entities()...)
	require.NoError(t, err)

	require.NoError(t, sys.AddVariables(
		Variable{Name: "salaire", Entity: "individu", ValueType: frame.Float, Default: 0},
		Variable{Name: "age", Entity: "individu", ValueType: frame.Int, Default: 18},
		Variable{Name: "irpp", Entity: "individu", ValueType: frame.Float, Class: Derived, Formula: zero},
	))

	v, ok := sys.Variable("age")
	require.True(t, ok)
	assert.Equal(t, int64(18), v.Default)
	assert.Equal(t, []string{"age", "irpp", "salaire"}, sys.VariableNames())

	tests := []struct {
		name string
		v    Variable
	}{
		{"duplicate", Variable{Name: "salaire", Entity: "individu"}},
		{"no name", Variable{Entity: "individu"}},
		{"unknown entity", Variable{Name: "x", Entity: "foyer"}},
		{"derived without formula", Variable{Name: "y", Entity: "individu", Class: Derived}},
		{"bad default", Variable{Name: "z", Entity: "individu", ValueType: frame.Bool, Default: "oui"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, sys.AddVariables(tt.v))
		})
	}

	_, err = sys.MustVariable("foyer")
	assert.True(t, errors.Is(err, ErrUnknownVariable))
}

func TestEffectiveClass(t *testing.T) {
	derived := &Variable{Name: "irpp", Class: Derived}
	assert.Equal(t, Derived, derived.EffectiveClass(nil))
	assert.Equal(t, DerivedButOverridable, derived.EffectiveClass(map[string]bool{"irpp": true}))

	input := &Variable{Name: "salaire", Class: Input}
	assert.Equal(t, Input, input.EffectiveClass(map[string]bool{"salaire": true}))
}

func TestDefaultColumn(t *testing.T) {
	v := &Variable{Name: "age", ValueType: frame.Int, Default: int64(7)}
	assert.Equal(t, []int64{7, 7}, v.DefaultColumn(2).Ints())

	f := &Variable{Name: "salaire", ValueType: frame.Float, Default: 1.5}
	assert.Equal(t, []float64{1.5}, f.DefaultColumn(1).Floats())
	assert.Equal(t, 1.5, f.DefaultFloat())

	b := &Variable{Name: "actif", ValueType: frame.Bool, Default: true}
	assert.Equal(t, []bool{true, true, true}, b.DefaultColumn(3).Bools())
}

func TestReformAndNeutralize(t *testing.T) {
	base, err := NewSystem("france", entities()...)
	require.NoError(t, err)
	require.NoError(t, base.AddVariables(
		Variable{Name: "salaire", Entity: "individu", ValueType: frame.Float},
		Variable{Name: "irpp", Entity: "individu", ValueType: frame.Float, Class: Derived, Formula: zero},
	))

	reform, err := base.Reform("reform", Variable{
		Name: "irpp", Entity: "individu", ValueType: frame.Float, Class: DerivedButOverridable, Formula: zero,
	})
	require.NoError(t, err)
	assert.Same(t, base, reform.Reference())
	assert.Same(t, base, reform.Root())

	v, _ := reform.Variable("irpp")
	assert.Equal(t, DerivedButOverridable, v.Class)
	v, _ = base.Variable("irpp")
	assert.Equal(t, Derived, v.Class)

	require.NoError(t, reform.Neutralize("salaire"))
	assert.True(t, reform.IsNeutralized("salaire"))
	assert.False(t, base.IsNeutralized("salaire"))
	assert.Equal(t, []string{"salaire"}, reform.Neutralized())
	assert.Error(t, reform.Neutralize("inconnu"))
}
