// Package period parses and expands the periods simulation inputs are
// given for: a year ("2015"), a month ("2015-03") or a quarter ("2015-Q2").
package period

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"
)

// ErrInvalidPeriod is returned when a period string is not one of the
// accepted formats (yyyy, yyyy-mm, yyyy-Qq).
var ErrInvalidPeriod = errors.New("invalid period")

// Unit is the length of a period.
type Unit int

const (
	Year Unit = iota
	Quarter
	Month
)

func (u Unit) String() string {
	switch u {
	case Month:
		return "month"
	case Quarter:
		return "quarter"
	case Year:
		return "year"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// Period is a calendar year, quarter or month. The zero value is invalid.
// Periods are comparable and may be used as map keys.
type Period struct {
	unit  Unit
	year  int
	index int // month 1-12 or quarter 1-4; 0 for a year
}

var pattern = regexp.MustCompile(`^((?:19|20)[0-9]{2})(?:-(0[1-9]|1[0-2]|Q[1-4]))?$`)

// Parse reads a period string.
func Parse(s string) (Period, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Period{}, errors.WithHint(
			errors.Wrapf(ErrInvalidPeriod, "%q", s),
			"accepted formats are yyyy, yyyy-mm and yyyy-Qq")
	}
	year, _ := strconv.Atoi(m[1])
	switch {
	case m[2] == "":
		return OfYear(year), nil
	case m[2][0] == 'Q':
		q, _ := strconv.Atoi(m[2][1:])
		return OfQuarter(year, q), nil
	default:
		month, _ := strconv.Atoi(m[2])
		return OfMonth(year, month), nil
	}
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// OfYear returns the period of a calendar year.
func OfYear(year int) Period { return Period{unit: Year, year: year} }

// OfMonth returns the period of a month (1-12).
func OfMonth(year, month int) Period { return Period{unit: Month, year: year, index: month} }

// OfQuarter returns the period of a quarter (1-4).
func OfQuarter(year, quarter int) Period { return Period{unit: Quarter, year: year, index: quarter} }

// Unit returns the length of the period.
func (p Period) Unit() Unit { return p.unit }

// Year returns the calendar year the period lies in.
func (p Period) Year() int { return p.year }

// IsZero reports whether p is the zero Period.
func (p Period) IsZero() bool { return p == Period{} }

// AsYear returns the year containing p.
func (p Period) AsYear() Period { return OfYear(p.year) }

// Months returns the months covered by p, in order.
func (p Period) Months() []Period {
	switch p.unit {
	case Month:
		return []Period{p}
	case Quarter:
		first := 3*(p.index-1) + 1
		return []Period{OfMonth(p.year, first), OfMonth(p.year, first+1), OfMonth(p.year, first+2)}
	default:
		out := make([]Period, 12)
		for m := 1; m <= 12; m++ {
			out[m-1] = OfMonth(p.year, m)
		}
		return out
	}
}

// InputPeriods returns the periods data given for p is set on. Quarters are
// not a simulation period and expand to their three months.
func (p Period) InputPeriods() []Period {
	if p.unit == Quarter {
		return p.Months()
	}
	return []Period{p}
}

// Contains reports whether other lies within p.
func (p Period) Contains(other Period) bool {
	if p.year != other.year {
		return false
	}
	switch p.unit {
	case Year:
		return true
	case Quarter:
		switch other.unit {
		case Quarter:
			return other.index == p.index
		case Month:
			return (other.index-1)/3+1 == p.index
		}
		return false
	default:
		return other.unit == Month && other.index == p.index
	}
}

func (p Period) String() string {
	switch p.unit {
	case Month:
		return fmt.Sprintf("%04d-%02d", p.year, p.index)
	case Quarter:
		return fmt.Sprintf("%04d-Q%d", p.year, p.index)
	case Year:
		if p.year == 0 {
			return ""
		}
		return fmt.Sprintf("%04d", p.year)
	}
	return ""
}

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
