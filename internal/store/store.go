// Package store persists frames as named tables.
//
// A store holds the tables of one survey. Two backends exist: a SQLite file
// per survey, and a schema per survey inside a shared PostgreSQL database.
// Both keep the column order and kinds of every table in a _columns
// metadata table, and an import history in _imports, so that a frame read
// back has the same columns, kinds and row count as the frame written.
package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

var (
	// ErrTableNotFound is returned when reading a table the store does not hold.
	ErrTableNotFound = errors.New("table not found")

	// ErrTableExists is returned when writing an existing table without
	// the overwrite flag.
	ErrTableExists = errors.New("table already exists")

	// ErrUnknownBackend is returned by Open for an unrecognised backend.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

const (
	columnsTable = "_columns"
	importsTable = "_imports"
)

// WriteOptions control WriteTable.
type WriteOptions struct {
	// Overwrite replaces an existing table of the same name.
	Overwrite bool
	// Source is recorded in the import history (usually a file path).
	Source string
}

// ColumnInfo describes one stored column.
type ColumnInfo struct {
	Name string     `json:"name"`
	Kind frame.Kind `json:"-"`
	Type string     `json:"type"`
}

// Import is one entry of the import history.
type Import struct {
	ID         uuid.UUID `json:"id"`
	Table      string    `json:"table"`
	Source     string    `json:"source"`
	Rows       int       `json:"rows"`
	ImportedAt time.Time `json:"imported_at"`
}

// Store is a table store for one survey.
type Store interface {
	// WriteTable stores fr under name.
	WriteTable(ctx context.Context, name string, fr *frame.Frame, opts WriteOptions) (Import, error)
	// ReadTable loads a table. When columns are given only those are read.
	ReadTable(ctx context.Context, name string, columns ...string) (*frame.Frame, error)
	// Columns lists the stored columns of a table, in order.
	Columns(ctx context.Context, name string) ([]ColumnInfo, error)
	// Tables lists the user tables, sorted by name.
	Tables(ctx context.Context) ([]string, error)
	// History lists past imports, oldest first.
	History(ctx context.Context) ([]Import, error)
	// DropTable removes a table and its metadata. Missing tables are ignored.
	DropTable(ctx context.Context, name string) error
	Close() error
}

// Options select and configure a backend.
type Options struct {
	Backend string

	// Path of the SQLite file.
	Path string

	// DatabaseURL and Schema address a PostgreSQL schema.
	DatabaseURL string
	Schema      string
	MaxConns    int
	MinConns    int
}

// Open opens the store described by opts, creating it when absent.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendSQLite:
		return OpenSQLite(ctx, opts.Path)
	case BackendPostgres:
		return OpenPostgres(ctx, opts)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", opts.Backend)
	}
}

// With opens a store, runs fn and closes the store again.
func With(ctx context.Context, opts Options, fn func(Store) error) (err error) {
	st, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close store")
		}
	}()
	return fn(st)
}

// tableNotFound logs the missing table with the available ones and returns
// the error carrying the same list as detail.
func tableNotFound(ctx context.Context, st Store, name, location string) error {
	available, _ := st.Tables(ctx)
	slog.Error("table not found in store",
		"table", name,
		"store", location,
		"available", available,
	)
	err := errors.Wrapf(ErrTableNotFound, "%s in %s", name, location)
	return errors.WithDetailf(err, "available tables: %s", strings.Join(available, ", "))
}

// validateWrite rejects names reserved for metadata and frames without
// columns.
func validateWrite(name string, fr *frame.Frame) error {
	if fr.Width() == 0 {
		return errors.Newf("table %s: no columns to store", name)
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("empty table name")
	}
	if strings.HasPrefix(name, "_") {
		return errors.Newf("table name %q is reserved", name)
	}
	return nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// rowValues returns row i of fr as driver values, missing values as nil.
func rowValues(fr *frame.Frame, i int) []any {
	cols := fr.Columns()
	out := make([]any, len(cols))
	for j, c := range cols {
		out[j] = c.Value(i)
	}
	return out
}

// builder accumulates scanned values into a typed column.
type builder struct {
	name    string
	kind    frame.Kind
	floats  []float64
	ints    []int64
	bools   []bool
	strs    []string
	missing []bool
	anyMiss bool
}

func newBuilder(info ColumnInfo) *builder {
	return &builder{name: info.Name, kind: info.Kind}
}

// append adds a scanned value. nil means missing.
func (b *builder) append(v any) error {
	miss := v == nil
	b.missing = append(b.missing, miss)
	if miss {
		b.anyMiss = true
	}
	switch b.kind {
	case frame.Float:
		x := 0.0
		if !miss {
			f, err := toFloat(v)
			if err != nil {
				return errors.Wrapf(err, "column %s", b.name)
			}
			x = f
		}
		b.floats = append(b.floats, x)
	case frame.Int:
		var x int64
		if !miss {
			f, err := toFloat(v)
			if err != nil {
				return errors.Wrapf(err, "column %s", b.name)
			}
			x = int64(f)
			if n, ok := v.(int64); ok {
				x = n
			}
		}
		b.ints = append(b.ints, x)
	case frame.Bool:
		x := false
		if !miss {
			switch t := v.(type) {
			case bool:
				x = t
			case int64:
				x = t != 0
			default:
				return errors.Newf("column %s: unexpected %T for bool", b.name, v)
			}
		}
		b.bools = append(b.bools, x)
	default:
		x := ""
		if !miss {
			switch t := v.(type) {
			case string:
				x = t
			case []byte:
				x = string(t)
			default:
				return errors.Newf("column %s: unexpected %T for string", b.name, v)
			}
		}
		b.strs = append(b.strs, x)
	}
	return nil
}

func (b *builder) column() *frame.Column {
	missing := b.missing
	if !b.anyMiss {
		missing = nil
	}
	switch b.kind {
	case frame.Float:
		if b.floats == nil {
			b.floats = []float64{}
		}
		return frame.NewFloat(b.name, b.floats, missing)
	case frame.Int:
		if b.ints == nil {
			b.ints = []int64{}
		}
		return frame.NewInt(b.name, b.ints, missing)
	case frame.Bool:
		if b.bools == nil {
			b.bools = []bool{}
		}
		return frame.NewBool(b.name, b.bools, missing)
	default:
		if b.strs == nil {
			b.strs = []string{}
		}
		return frame.NewString(b.name, b.strs, missing)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int:
		return float64(t), nil
	}
	return 0, errors.Newf("unexpected %T for number", v)
}

// selectColumns returns the infos of the requested columns, all of them
// when none are requested.
func selectColumns(infos []ColumnInfo, columns []string) ([]ColumnInfo, error) {
	if len(columns) == 0 {
		return infos, nil
	}
	byName := make(map[string]ColumnInfo, len(infos))
	for _, c := range infos {
		byName[c.Name] = c
	}
	out := make([]ColumnInfo, 0, len(columns))
	var missing []string
	for _, name := range columns {
		c, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, c)
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(frame.ErrColumnNotFound, "%s", strings.Join(missing, ", "))
	}
	return out, nil
}

func columnNames(infos []ColumnInfo) []string {
	out := make([]string, len(infos))
	for i, c := range infos {
		out[i] = c.Name
	}
	return out
}
