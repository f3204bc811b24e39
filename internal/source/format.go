// Package source reads foreign survey files (SAS, Stata, CSV) into frames.
//
// Readers are registered per Format. SPSS and R data files are recognised so
// collections describing them stay loadable, but reading them fails with
// ErrUnsupportedFormat.
package source

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Format is the source format tag stored in survey metadata.
type Format string

const (
	SAS   Format = "sas"
	Stata Format = "stata"
	SPSS  Format = "spss"
	RData Format = "Rdata"
	CSV   Format = "csv"
)

// ErrUnsupportedFormat is returned for formats that have no reader.
var ErrUnsupportedFormat = errors.New("unsupported source format")

// extensions maps a file extension (without dot) to its format.
var extensions = map[string]Format{
	"sas7bdat": SAS,
	"dta":      Stata,
	"sav":      SPSS,
	"rdata":    RData,
	"csv":      CSV,
}

// FormatFromExtension returns the format of a path based on its extension.
func FormatFromExtension(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "extension %q", ext)
}

// ParseFormat validates a format tag. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{SAS, Stata, SPSS, RData, CSV} {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", s)
}

// Extension returns the canonical file extension for the format.
func (f Format) Extension() string {
	for ext, format := range extensions {
		if format == f {
			if f == RData {
				return "Rdata"
			}
			return ext
		}
	}
	return ""
}

// FilesKey returns the survey information key listing the source files of
// this format, e.g. "sas_files".
func (f Format) FilesKey() string {
	return fmt.Sprintf("%s_files", f)
}

var (
	readers   = make(map[Format]Reader)
	readersMu sync.RWMutex
)

// Register adds a reader for a format.
// Panics if a reader for the same format is already registered.
func Register(f Format, r Reader) {
	readersMu.Lock()
	defer readersMu.Unlock()

	if _, exists := readers[f]; exists {
		panic(fmt.Sprintf("reader already registered: %s", f))
	}
	readers[f] = r
}

// Lookup returns the reader for a format.
func Lookup(f Format) (Reader, error) {
	readersMu.RLock()
	defer readersMu.RUnlock()

	r, ok := readers[f]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "no reader for %s", f)
	}
	return r, nil
}

// Supported returns the formats that have a registered reader, sorted.
func Supported() []Format {
	readersMu.RLock()
	defer readersMu.RUnlock()

	out := make([]Format, 0, len(readers))
	for f := range readers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
