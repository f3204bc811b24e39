// Package survey describes survey data: named surveys grouped in
// collections, each survey holding tables stored in its own table store.
//
// Collections are persisted as YAML files listed in config.toml. The data of
// a survey lives in a store (a SQLite file or a PostgreSQL schema) which is
// opened for the duration of each access.
package survey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/source"
	"github.com/JonMunkholm/survey-manager/internal/store"
)

var (
	// ErrSurveyNotFound is returned when a collection has no survey of the
	// requested name.
	ErrSurveyNotFound = errors.New("survey not found")

	// ErrMissingVariables is returned when requested variables are absent
	// from a table.
	ErrMissingVariables = errors.New("missing variables")

	// ErrStoreNotBuilt is returned when reading a survey whose store does
	// not exist yet.
	ErrStoreNotBuilt = errors.New("survey store not built")
)

// Table holds the metadata of one survey table.
type Table struct {
	Label        string        `yaml:"label,omitempty" json:"label,omitempty"`
	SourceFormat source.Format `yaml:"source_format,omitempty" json:"source_format,omitempty"`
	SourceFiles  []string      `yaml:"source_files,omitempty" json:"source_files,omitempty"`
	Variables    []string      `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Extra carries arbitrary key/values attached with InsertTable.
	Extra map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// Survey describes one survey and its tables.
type Survey struct {
	Name  string `yaml:"name" json:"name"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	// StorePath is the SQLite file of the survey. It is resolved from the
	// collection's output directory on first fill when empty.
	StorePath string `yaml:"store_path,omitempty" json:"store_path,omitempty"`

	// Informations holds free-form survey information, among which the
	// "<format>_files" lists of source files.
	Informations map[string]any `yaml:"informations,omitempty" json:"informations,omitempty"`

	Tables map[string]*Table `yaml:"tables,omitempty" json:"tables,omitempty"`

	collection   *Collection
	columnsIndex map[string][]string
}

// New returns a survey with the given name. A survey must have a name.
func New(name, label string, informations map[string]any) (*Survey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("a survey should have a name")
	}
	if informations == nil {
		informations = make(map[string]any)
	}
	return &Survey{
		Name:         name,
		Label:        label,
		Informations: informations,
		Tables:       make(map[string]*Table),
	}, nil
}

// Collection returns the collection the survey belongs to, or nil.
func (s *Survey) Collection() *Collection { return s.collection }

// TableNames returns the names of the described tables, sorted.
func (s *Survey) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for n := range s.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SourceFiles returns the files listed under "<format>_files".
func (s *Survey) SourceFiles(format source.Format) []string {
	raw, ok := s.Informations[format.FilesKey()]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// SetSourceFiles records the source files of a format.
func (s *Survey) SetSourceFiles(format source.Format, files []string) {
	if s.Informations == nil {
		s.Informations = make(map[string]any)
	}
	s.Informations[format.FilesKey()] = files
}

var schemaUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// schemaName derives a PostgreSQL schema name from a survey name.
func schemaName(survey string) string {
	return strings.Trim(schemaUnsafe.ReplaceAllString(strings.ToLower(survey), "_"), "_")
}

// storeOptions returns the options of the survey's store. With create set
// the SQLite path is resolved (and its directory created) when unset;
// otherwise a missing store is an ErrStoreNotBuilt.
func (s *Survey) storeOptions(create bool) (store.Options, error) {
	var opts store.Options
	if s.collection != nil {
		opts = s.collection.store
	}

	if strings.EqualFold(opts.Backend, store.BackendPostgres) {
		opts.Schema = schemaName(s.Name)
		return opts, nil
	}

	if s.StorePath == "" {
		if !create {
			return opts, errors.Wrapf(ErrStoreNotBuilt, "survey %s has no store path", s.Name)
		}
		dir := ""
		if s.collection != nil {
			dir = s.collection.outputDir
		}
		if dir == "" {
			return opts, errors.Newf("survey %s: no output directory configured", s.Name)
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			slog.Warn("output directory does not exist, creating it", "directory", dir)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return opts, errors.Wrapf(err, "create output directory %s", dir)
			}
		}
		s.StorePath = filepath.Join(dir, s.Name+".db")
	}

	if !create {
		if _, err := os.Stat(s.StorePath); err != nil {
			return opts, errors.WithHintf(
				errors.Wrapf(ErrStoreNotBuilt, "%s", s.StorePath),
				"the data of survey %s may not have been built yet; run the fill command", s.Name)
		}
	}
	opts.Backend = store.BackendSQLite
	opts.Path = s.StorePath
	return opts, nil
}

// withStore opens the survey's store for the duration of fn.
func (s *Survey) withStore(ctx context.Context, create bool, fn func(store.Store) error) error {
	opts, err := s.storeOptions(create)
	if err != nil {
		return err
	}
	return store.With(ctx, opts, fn)
}

// InsertTable records table metadata and, when fr is not nil, stores its
// data, replacing any table of the same name.
func (s *Survey) InsertTable(ctx context.Context, name, label string, fr *frame.Frame, extra map[string]any) error {
	if label == "" {
		label = name
	}
	if fr != nil {
		slog.Debug("saving table", "table", name, "survey", s.Name)
		err := s.withStore(ctx, true, func(st store.Store) error {
			_, err := st.WriteTable(ctx, name, fr, store.WriteOptions{Overwrite: true, Source: "insert"})
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "insert table %s", name)
		}
		delete(s.columnsIndex, name)
	}

	if s.Tables == nil {
		s.Tables = make(map[string]*Table)
	}
	t, ok := s.Tables[name]
	if !ok {
		t = &Table{}
		s.Tables[name] = t
	}
	if t.Label == "" {
		t.Label = label
	}
	if fr != nil {
		t.Variables = fr.Names()
	}
	for k, v := range extra {
		if t.Extra == nil {
			t.Extra = make(map[string]any)
		}
		t.Extra[k] = v
	}
	return nil
}

// ValuesOptions control GetValues.
type ValuesOptions struct {
	// Lowercase puts the column names in lower case.
	Lowercase bool
	// RenameIdent renames the first identNN column to "ident".
	RenameIdent bool
}

// DefaultValuesOptions renames identifier columns and keeps the case.
var DefaultValuesOptions = ValuesOptions{RenameIdent: true}

// GetValues reads variables of a table. With no variables the whole table
// is returned. Requested variables absent from the table are an error.
func (s *Survey) GetValues(ctx context.Context, table string, variables []string, opts ValuesOptions) (*frame.Frame, error) {
	if _, ok := s.Tables[table]; !ok {
		slog.Error("table is not described in survey", "table", table, "survey", s.Name)
	}

	var fr *frame.Frame
	err := s.withStore(ctx, false, func(st store.Store) error {
		var err error
		fr, err = st.ReadTable(ctx, table)
		return err
	})
	if err != nil {
		return nil, err
	}

	fr, err = source.Clean(fr, source.CleanOptions{Lowercase: opts.Lowercase, RenameIdent: opts.RenameIdent})
	if err != nil {
		return nil, err
	}

	if len(variables) == 0 {
		return fr, nil
	}

	var missing []string
	for _, v := range variables {
		if !fr.Has(v) {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.Wrapf(ErrMissingVariables, "the following variable(s) are missing from %s: %s",
			table, strings.Join(missing, ", "))
	}
	return fr.Select(variables...)
}

// Preview returns the first limit rows of a table.
func (s *Survey) Preview(ctx context.Context, table string, limit int) (*frame.Frame, error) {
	fr, err := s.GetValues(ctx, table, nil, DefaultValuesOptions)
	if err != nil {
		return nil, err
	}
	return fr.Head(limit), nil
}

// GetColumns returns the column names of a stored table. A table absent
// from the store yields an empty list.
func (s *Survey) GetColumns(ctx context.Context, table string, renameIdent bool) ([]string, error) {
	var names []string
	err := s.withStore(ctx, false, func(st store.Store) error {
		tables, err := st.Tables(ctx)
		if err != nil {
			return err
		}
		if !contains(tables, table) {
			slog.Info("table not found in store", "table", table, "survey", s.Name)
			return nil
		}
		slog.Info("building columns index", "table", table, "survey", s.Name)
		infos, err := st.Columns(ctx, table)
		if err != nil {
			return err
		}
		for _, info := range infos {
			names = append(names, info.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if renameIdent {
		for i, n := range names {
			if source.IdentPattern.MatchString(n) {
				slog.Info("column replaced by ident", "column", n)
				names[i] = source.IdentColumn
				break
			}
		}
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Columns returns the typed column descriptions of a stored table.
func (s *Survey) Columns(ctx context.Context, table string) ([]store.ColumnInfo, error) {
	var infos []store.ColumnInfo
	err := s.withStore(ctx, false, func(st store.Store) error {
		var err error
		infos, err = st.Columns(ctx, table)
		return err
	})
	return infos, err
}

// FindTables returns the tables holding variable. When no tables are
// given, every described table is searched. Column lists are cached.
func (s *Survey) FindTables(ctx context.Context, variable string, tables ...string) ([]string, error) {
	if variable == "" {
		return nil, errors.New("a variable is needed")
	}
	if len(tables) == 0 {
		tables = s.TableNames()
	}
	if s.columnsIndex == nil {
		s.columnsIndex = make(map[string][]string)
	}

	var found []string
	for _, table := range tables {
		cols, ok := s.columnsIndex[table]
		if !ok {
			var err error
			if cols, err = s.GetColumns(ctx, table, true); err != nil {
				return nil, err
			}
			s.columnsIndex[table] = cols
		}
		if contains(cols, variable) {
			found = append(found, table)
		}
	}
	return found, nil
}

// StoredTables lists the tables present in the survey's store.
func (s *Survey) StoredTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := s.withStore(ctx, false, func(st store.Store) error {
		var err error
		tables, err = st.Tables(ctx)
		return err
	})
	return tables, err
}

// History lists the imports recorded in the survey's store.
func (s *Survey) History(ctx context.Context) ([]store.Import, error) {
	var history []store.Import
	err := s.withStore(ctx, false, func(st store.Store) error {
		var err error
		history, err = st.History(ctx)
		return err
	})
	return history, err
}

// Summary returns a human readable description of the survey.
func (s *Survey) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s : survey data %s\nContains the following tables : \n", s.Name, s.Label)
	tables, _ := yaml.Marshal(s.TableNames())
	b.Write(tables)
	if len(s.Informations) > 0 {
		infos, _ := yaml.Marshal(s.Informations)
		b.Write(infos)
	}
	return b.String()
}

// ToJSON returns the JSON description of the survey.
func (s *Survey) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
