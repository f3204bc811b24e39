package source

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

// IdentPattern matches the yearly household identifier columns of the
// source surveys (ident09, IDENT2010, ...).
var IdentPattern = regexp.MustCompile(`(?i)^ident\d{2,4}$`)

// IdentColumn is the name identifier columns are renamed to.
const IdentColumn = "ident"

// RenameIdent renames the first column matching IdentPattern to "ident".
// Frames that already hold an "ident" column are returned unchanged.
func RenameIdent(fr *frame.Frame) (*frame.Frame, error) {
	if fr.Has(IdentColumn) {
		return fr, nil
	}
	for _, name := range fr.Names() {
		if IdentPattern.MatchString(name) {
			slog.Debug("renaming identifier column", "from", name, "to", IdentColumn)
			return fr.Rename(map[string]string{name: IdentColumn})
		}
	}
	return fr, nil
}

// CleanOptions controls Clean.
type CleanOptions struct {
	Lowercase   bool
	RenameIdent bool
}

// Clean prepares a freshly read frame for storage: column names are trimmed
// (and optionally lower-cased), string values trimmed, and the yearly
// identifier optionally renamed.
func Clean(fr *frame.Frame, opts CleanOptions) (*frame.Frame, error) {
	mapping := make(map[string]string, fr.Width())
	for _, name := range fr.Names() {
		to := strings.TrimSpace(name)
		if opts.Lowercase {
			to = strings.ToLower(to)
		}
		if to != name {
			mapping[name] = to
		}
	}

	out, err := fr.Rename(mapping)
	if err != nil {
		return nil, err
	}
	if out, err = trimStrings(out); err != nil {
		return nil, err
	}
	if opts.RenameIdent {
		return RenameIdent(out)
	}
	return out, nil
}
