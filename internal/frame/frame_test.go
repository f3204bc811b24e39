package frame

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

// ----------------------------------------------------------------------------
// Column Tests
// ----------------------------------------------------------------------------

func TestNewColumn_Widening(t *testing.T) {
	tests := []struct {
		name     string
		data     any
		wantKind Kind
		wantLen  int
	}{
		{name: "float32", data: []float32{1, 2}, wantKind: Float, wantLen: 2},
		{name: "int16", data: []int16{1, 2, 3}, wantKind: Int, wantLen: 3},
		{name: "int", data: []int{7}, wantKind: Int, wantLen: 1},
		{name: "uint64", data: []uint64{1, 2}, wantKind: Int, wantLen: 2},
		{name: "strings", data: []string{"a"}, wantKind: String, wantLen: 1},
		{name: "bools", data: []bool{true, false}, wantKind: Bool, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewColumn("x", tt.data, nil)
			if err != nil {
				t.Fatalf("NewColumn() error = %v", err)
			}
			if c.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", c.Kind(), tt.wantKind)
			}
			if c.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", c.Len(), tt.wantLen)
			}
		})
	}
}

func TestNewColumn_UnsupportedType(t *testing.T) {
	if _, err := NewColumn("x", []complex64{1}, nil); err == nil {
		t.Error("NewColumn() with complex values should fail")
	}
}

func TestNewColumn_MaskLength(t *testing.T) {
	_, err := NewColumn("x", []float64{1, 2}, []bool{false})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("NewColumn() error = %v, want ErrLengthMismatch", err)
	}
}

func TestColumn_Missing(t *testing.T) {
	c := NewFloat("salaire", []float64{1, math.NaN(), 3}, []bool{false, false, true})

	if got := c.CountMissing(); got != 2 {
		t.Errorf("CountMissing() = %d, want 2", got)
	}
	if c.Value(1) != nil {
		t.Errorf("Value(1) = %v, want nil", c.Value(1))
	}
	if c.Value(0) != 1.0 {
		t.Errorf("Value(0) = %v, want 1", c.Value(0))
	}
}

func TestColumn_FillMissing(t *testing.T) {
	c := NewFloat("salaire", []float64{1, math.NaN(), 3, math.NaN()}, nil)

	filled, n := c.FillMissing(0)
	if n != 2 {
		t.Errorf("FillMissing() replaced %d, want 2", n)
	}
	if filled.HasMissing() {
		t.Error("FillMissing() result still has missing values")
	}
	want := []float64{1, 0, 3, 0}
	if !reflect.DeepEqual(filled.Floats(), want) {
		t.Errorf("Floats() = %v, want %v", filled.Floats(), want)
	}
	// Receiver is untouched.
	if !math.IsNaN(c.Floats()[1]) {
		t.Error("FillMissing() modified its receiver")
	}
}

func TestColumn_Cast(t *testing.T) {
	tests := []struct {
		name     string
		col      *Column
		to       Kind
		wantErr  bool
		wantVals any
	}{
		{
			name:     "float to int truncates",
			col:      NewFloat("x", []float64{1.9, -2.2}, nil),
			to:       Int,
			wantVals: []int64{1, -2},
		},
		{
			name:     "string to float",
			col:      NewString("x", []string{"1.5", " 2 "}, nil),
			to:       Float,
			wantVals: []float64{1.5, 2},
		},
		{
			name:     "string to int accepts decimals",
			col:      NewString("x", []string{"3", "4.0"}, nil),
			to:       Int,
			wantVals: []int64{3, 4},
		},
		{
			name:     "int to bool",
			col:      NewInt("x", []int64{0, 2}, nil),
			to:       Bool,
			wantVals: []bool{false, true},
		},
		{
			name:     "string to bool",
			col:      NewString("x", []string{"oui", "0"}, nil),
			to:       Bool,
			wantVals: []bool{true, false},
		},
		{
			name:    "bad string to float",
			col:     NewString("x", []string{"abc"}, nil),
			to:      Float,
			wantErr: true,
		},
		{
			name:    "bad string to bool",
			col:     NewString("x", []string{"maybe"}, nil),
			to:      Bool,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.col.Cast(tt.to)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Cast(%v) should fail", tt.to)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cast(%v) error = %v", tt.to, err)
			}
			var vals any
			switch tt.to {
			case Float:
				vals = got.Floats()
			case Int:
				vals = got.Ints()
			case Bool:
				vals = got.Bools()
			default:
				vals = got.Strings()
			}
			if !reflect.DeepEqual(vals, tt.wantVals) {
				t.Errorf("Cast(%v) = %v, want %v", tt.to, vals, tt.wantVals)
			}
		})
	}
}

func TestColumn_CastBlankIsMissing(t *testing.T) {
	c := NewString("x", []string{"1", ""}, nil)
	got, err := c.Cast(Int)
	if err != nil {
		t.Fatalf("Cast(Int) error = %v", err)
	}
	if !got.IsMissing(1) {
		t.Error("blank string should become a missing value")
	}
}

func TestColumn_Scale(t *testing.T) {
	c := NewInt("x", []int64{1, 2}, nil)
	got, err := c.Scale(1.5)
	if err != nil {
		t.Fatalf("Scale() error = %v", err)
	}
	if got.Kind() != Float {
		t.Errorf("Kind() = %v, want float", got.Kind())
	}
	if !reflect.DeepEqual(got.Floats(), []float64{1.5, 3}) {
		t.Errorf("Floats() = %v", got.Floats())
	}

	if _, err := NewString("s", []string{"a"}, nil).Scale(2); err == nil {
		t.Error("Scale() on a string column should fail")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Float, Int, Bool, String} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", k.String(), got, err, k)
		}
	}
	if _, err := ParseKind("complex"); err == nil {
		t.Error("ParseKind(complex) should fail")
	}
}

// ----------------------------------------------------------------------------
// Frame Tests
// ----------------------------------------------------------------------------

func testFrame() *Frame {
	return MustNew(
		NewInt("idmen", []int64{1, 1, 2, 2}, nil),
		NewInt("quimen", []int64{0, 1, 0, 1}, nil),
		NewFloat("salaire", []float64{100, 50, 200, 0}, nil),
	)
}

func TestFrame_New(t *testing.T) {
	f := testFrame()
	if f.Len() != 4 {
		t.Errorf("Len() = %d, want 4", f.Len())
	}
	if f.Width() != 3 {
		t.Errorf("Width() = %d, want 3", f.Width())
	}

	_, err := New(NewInt("a", []int64{1}, nil), NewInt("a", []int64{2}, nil))
	if !errors.Is(err, ErrDuplicateColumn) {
		t.Errorf("New() duplicate error = %v, want ErrDuplicateColumn", err)
	}

	_, err = New(NewInt("a", []int64{1}, nil), NewInt("b", []int64{1, 2}, nil))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("New() length error = %v, want ErrLengthMismatch", err)
	}
}

func TestFrame_SelectDrop(t *testing.T) {
	f := testFrame()

	sel, err := f.Select("salaire", "idmen")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !reflect.DeepEqual(sel.Names(), []string{"salaire", "idmen"}) {
		t.Errorf("Select() names = %v", sel.Names())
	}

	if _, err := f.Select("nope"); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("Select(nope) error = %v, want ErrColumnNotFound", err)
	}

	dropped := f.Drop("quimen", "unknown")
	if !reflect.DeepEqual(dropped.Names(), []string{"idmen", "salaire"}) {
		t.Errorf("Drop() names = %v", dropped.Names())
	}
	if f.Width() != 3 {
		t.Error("Drop() modified its receiver")
	}
}

func TestFrame_RenameAndLowercase(t *testing.T) {
	f := MustNew(NewInt("IDENT09", []int64{1}, nil), NewInt("Age", []int64{30}, nil))

	lower, err := f.LowercaseNames()
	if err != nil {
		t.Fatalf("LowercaseNames() error = %v", err)
	}
	if !reflect.DeepEqual(lower.Names(), []string{"ident09", "age"}) {
		t.Errorf("LowercaseNames() = %v", lower.Names())
	}

	renamed, err := lower.Rename(map[string]string{"ident09": "ident"})
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if !renamed.Has("ident") || renamed.Has("ident09") {
		t.Errorf("Rename() names = %v", renamed.Names())
	}
}

func TestFrame_FilterHeadWith(t *testing.T) {
	f := testFrame()
	quimen, _ := f.Column("quimen")

	mask := make([]bool, f.Len())
	for i, r := range quimen.Ints() {
		mask[i] = r == 0
	}
	heads, err := f.Filter(mask)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	sal, _ := heads.Column("salaire")
	if !reflect.DeepEqual(sal.Floats(), []float64{100, 200}) {
		t.Errorf("filtered salaire = %v, want [100 200]", sal.Floats())
	}

	if _, err := f.Filter([]bool{true}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Filter() short mask error = %v", err)
	}

	if got := f.Head(2).Len(); got != 2 {
		t.Errorf("Head(2).Len() = %d", got)
	}
	if got := f.Head(10).Len(); got != 4 {
		t.Errorf("Head(10).Len() = %d", got)
	}

	replaced, err := f.With(NewFloat("salaire", []float64{1, 2, 3, 4}, nil))
	if err != nil {
		t.Fatalf("With() error = %v", err)
	}
	if replaced.Width() != 3 {
		t.Errorf("With() replace width = %d, want 3", replaced.Width())
	}
	added, err := f.With(NewBool("actif", []bool{true, true, false, false}, nil))
	if err != nil {
		t.Fatalf("With() error = %v", err)
	}
	if added.Width() != 4 {
		t.Errorf("With() add width = %d, want 4", added.Width())
	}
}

func TestFrame_Concat(t *testing.T) {
	a := MustNew(NewInt("id", []int64{1}, nil), NewFloat("w", []float64{1}, nil))
	b := MustNew(NewFloat("w", []float64{2}, []bool{true}), NewInt("id", []int64{2}, nil))

	got, err := a.Concat(b)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if got.Len() != 2 {
		t.Errorf("Concat().Len() = %d, want 2", got.Len())
	}
	w, _ := got.Column("w")
	if w.IsMissing(0) || !w.IsMissing(1) {
		t.Errorf("Concat() missing mask = %v", w.Missing())
	}
}
