package source

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kshedden/datareader"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

// Reader decodes a whole file into a frame.
type Reader interface {
	Read(r io.ReadSeeker) (*frame.Frame, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(r io.ReadSeeker) (*frame.Frame, error)

// Read calls f(r).
func (f ReaderFunc) Read(r io.ReadSeeker) (*frame.Frame, error) { return f(r) }

func init() {
	Register(SAS, ReaderFunc(readSAS))
	Register(Stata, ReaderFunc(readStata))
	Register(CSV, ReaderFunc(readCSV))
}

// ReadFile opens path and decodes it with the reader registered for format.
func ReadFile(path string, format Format) (*frame.Frame, error) {
	rd, err := Lookup(format)
	if err != nil {
		return nil, errors.WithDetailf(err, "file: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	fr, err := rd.Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s file %s", format, path)
	}
	slog.Debug("source file read", "path", path, "format", format, "rows", fr.Len(), "columns", fr.Width())
	return fr, nil
}

func readSAS(r io.ReadSeeker) (*frame.Frame, error) {
	sas, err := datareader.NewSAS7BDATReader(r)
	if err != nil {
		return nil, err
	}
	sas.ConvertDates = true
	sas.TrimStrings = true
	return fromSeries(sas.Read(-1))
}

func readStata(r io.ReadSeeker) (*frame.Frame, error) {
	stata, err := datareader.NewStataReader(r)
	if err != nil {
		return nil, err
	}
	stata.ConvertDates = true
	stata.InsertCategoryLabels = false
	stata.InsertStrls = true
	return fromSeries(stata.Read(-1))
}

func readCSV(r io.ReadSeeker) (*frame.Frame, error) {
	rdr := datareader.NewCSVReader(r)
	rdr.HasHeader = true
	return fromSeries(rdr.Read(-1))
}

// fromSeries converts the output of a datareader Read call. An io.EOF or a
// nil chunk means the file has no rows.
func fromSeries(series []*datareader.Series, err error) (*frame.Frame, error) {
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cols := make([]*frame.Column, 0, len(series))
	for _, s := range series {
		if s == nil {
			continue
		}
		c, err := frame.NewColumn(s.Name, s.Data(), normalizeMissing(s.Missing()))
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return frame.New(cols...)
}

// normalizeMissing drops all-false masks so columns without missing values
// carry no mask at all.
func normalizeMissing(m []bool) []bool {
	for _, v := range m {
		if v {
			return m
		}
	}
	return nil
}

// trimStrings trims surrounding blanks of every string column. SAS and
// Stata pad fixed-width strings.
func trimStrings(fr *frame.Frame) (*frame.Frame, error) {
	cols := make([]*frame.Column, fr.Width())
	for i, c := range fr.Columns() {
		if c.Kind() != frame.String {
			cols[i] = c
			continue
		}
		vals := make([]string, c.Len())
		for j, s := range c.Strings() {
			vals[j] = strings.TrimSpace(s)
		}
		cols[i] = frame.NewString(c.Name(), vals, c.Missing())
	}
	return frame.New(cols...)
}
