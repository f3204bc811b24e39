package survey

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/logging"
	"github.com/JonMunkholm/survey-manager/internal/source"
	"github.com/JonMunkholm/survey-manager/internal/store"
)

// defaultFormats are tried in order when FillOptions.Format is empty.
var defaultFormats = []source.Format{source.Stata, source.SAS, source.SPSS, source.RData, source.CSV}

// Overwrite selects which existing tables a fill replaces.
type Overwrite struct {
	all    bool
	tables map[string]bool
}

// OverwriteAll replaces every table when b is true, none otherwise.
func OverwriteAll(b bool) Overwrite {
	return Overwrite{all: b}
}

// OverwriteTables replaces only the named tables.
func OverwriteTables(names ...string) Overwrite {
	o := Overwrite{tables: make(map[string]bool, len(names))}
	for _, n := range names {
		o.tables[n] = true
	}
	return o
}

// For reports whether table must be overwritten.
func (o Overwrite) For(table string) bool {
	return o.all || o.tables[table]
}

// FillOptions control FillStore.
type FillOptions struct {
	// Format restricts the fill to one source format.
	Format source.Format
	// Tables restricts the fill to files whose base name is listed.
	Tables []string
	// Overwrite selects the existing tables to replace. The zero value
	// keeps every existing table.
	Overwrite Overwrite
}

// FillResult reports what a fill did.
type FillResult struct {
	Imported []store.Import
	Skipped  []string
}

// FillStore imports the survey's source files into its store, then dumps
// the collection.
func (s *Survey) FillStore(ctx context.Context, opts FillOptions) (*FillResult, error) {
	if s.collection == nil {
		return nil, errors.Newf("survey %s is not attached to a collection", s.Name)
	}

	formats := defaultFormats
	if opts.Format != "" {
		formats = []source.Format{opts.Format}
	}
	selected := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		selected[t] = true
	}

	logger := logging.WithFields(ctx, "collection", s.collection.Name, "survey", s.Name)
	result := &FillResult{}

	err := s.withStore(ctx, true, func(st store.Store) error {
		for _, listFormat := range formats {
			for _, file := range s.SourceFiles(listFormat) {
				if err := ctx.Err(); err != nil {
					return err
				}
				name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				if len(selected) > 0 && !selected[name] {
					continue
				}

				format, err := source.FormatFromExtension(file)
				if err != nil {
					format = listFormat
				}
				imp, err := s.fillTable(ctx, st, name, file, format, opts.Overwrite.For(name))
				if errors.Is(err, store.ErrTableExists) {
					logger.Info("table already stored, skipping", "table", name)
					result.Skipped = append(result.Skipped, name)
					continue
				}
				if errors.Is(err, source.ErrUnsupportedFormat) {
					logger.Warn("no reader for source format, skipping", "table", name, "format", format)
					result.Skipped = append(result.Skipped, name)
					continue
				}
				if err != nil {
					return errors.Wrapf(err, "fill table %s", name)
				}
				result.Imported = append(result.Imported, imp)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	logger.Info("fill completed", "imported", len(result.Imported), "skipped", len(result.Skipped))
	if err := s.collection.Dump(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Survey) fillTable(ctx context.Context, st store.Store, name, file string, format source.Format, overwrite bool) (store.Import, error) {
	if !overwrite {
		tables, err := st.Tables(ctx)
		if err != nil {
			return store.Import{}, err
		}
		if contains(tables, name) {
			return store.Import{}, errors.Wrapf(store.ErrTableExists, "%s", name)
		}
	}

	fr, err := source.ReadFile(file, format)
	if err != nil {
		return store.Import{}, err
	}
	fr, err = source.Clean(fr, source.CleanOptions{RenameIdent: true})
	if err != nil {
		return store.Import{}, err
	}

	imp, err := st.WriteTable(ctx, name, fr, store.WriteOptions{Overwrite: overwrite, Source: file})
	if err != nil {
		return store.Import{}, err
	}

	if s.Tables == nil {
		s.Tables = make(map[string]*Table)
	}
	s.Tables[name] = &Table{
		Label:        name,
		SourceFormat: format,
		SourceFiles:  []string{file},
		Variables:    fr.Names(),
	}
	delete(s.columnsIndex, name)
	return imp, nil
}
