package period

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		unit Unit
		want string
	}{
		{"2015", Year, "2015"},
		{"2015-03", Month, "2015-03"},
		{"2015-12", Month, "2015-12"},
		{"2015-Q2", Quarter, "2015-Q2"},
		{"1999-Q4", Quarter, "1999-Q4"},
	}

	for _, tt := range tests {
		p, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.in, err)
		}
		if p.Unit() != tt.unit {
			t.Errorf("Parse(%q).Unit() = %v, want %v", tt.in, p.Unit(), tt.unit)
		}
		if p.String() != tt.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tt.in, p.String(), tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "15", "2015-00", "2015-13", "2015-Q5", "2015-Q0", "1815", "2015-3", "2015/03"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidPeriod", in, err)
		}
	}
}

func TestQuarterExpandsToItsThreeMonths(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"2015-Q1", []string{"2015-01", "2015-02", "2015-03"}},
		{"2015-Q2", []string{"2015-04", "2015-05", "2015-06"}},
		{"2015-Q3", []string{"2015-07", "2015-08", "2015-09"}},
		{"2015-Q4", []string{"2015-10", "2015-11", "2015-12"}},
	}

	for _, tt := range tests {
		got := MustParse(tt.in).InputPeriods()
		if len(got) != len(tt.want) {
			t.Fatalf("%s expands to %d periods, want %d", tt.in, len(got), len(tt.want))
		}
		for i := range got {
			if got[i].String() != tt.want[i] {
				t.Errorf("%s month %d = %s, want %s", tt.in, i, got[i], tt.want[i])
			}
			if got[i].Unit() != Month {
				t.Errorf("%s expanded period %s is not a month", tt.in, got[i])
			}
		}
	}
}

func TestInputPeriods_YearAndMonth(t *testing.T) {
	for _, in := range []string{"2015", "2015-07"} {
		got := MustParse(in).InputPeriods()
		if len(got) != 1 || got[0] != MustParse(in) {
			t.Errorf("InputPeriods(%s) = %v, want itself", in, got)
		}
	}
}

func TestMonthsOfYear(t *testing.T) {
	months := OfYear(2015).Months()
	if len(months) != 12 {
		t.Fatalf("got %d months, want 12", len(months))
	}
	if months[0] != OfMonth(2015, 1) || months[11] != OfMonth(2015, 12) {
		t.Errorf("months = %v", months)
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		outer, inner string
		want         bool
	}{
		{"2015", "2015-03", true},
		{"2015", "2015-Q3", true},
		{"2015", "2016-03", false},
		{"2015-Q2", "2015-04", true},
		{"2015-Q2", "2015-07", false},
		{"2015-03", "2015-03", true},
		{"2015-03", "2015", false},
	}

	for _, tt := range tests {
		if got := MustParse(tt.outer).Contains(MustParse(tt.inner)); got != tt.want {
			t.Errorf("%s.Contains(%s) = %v, want %v", tt.outer, tt.inner, got, tt.want)
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	var p Period
	if err := p.UnmarshalText([]byte("2015-Q2")); err != nil {
		t.Fatal(err)
	}
	b, _ := p.MarshalText()
	if string(b) != "2015-Q2" {
		t.Errorf("MarshalText = %q", b)
	}
	if !(Period{}).IsZero() || p.IsZero() {
		t.Error("IsZero mismatch")
	}
}
