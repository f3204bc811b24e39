package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

// SQLiteStore keeps the tables of a survey in one SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var sqliteTypes = map[frame.Kind]string{
	frame.Float:  "REAL",
	frame.Int:    "INTEGER",
	frame.Bool:   "INTEGER",
	frame.String: "TEXT",
}

// OpenSQLite opens (creating when needed) the SQLite store at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create store directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	st := &SQLiteStore{db: db, path: path}
	if err := st.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return st, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS _columns (
		table_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (table_name, position)
	);

	CREATE TABLE IF NOT EXISTS _imports (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		source TEXT,
		row_count INTEGER NOT NULL,
		imported_at TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Path returns the file backing the store.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return n > 0, err
}

// WriteTable stores fr under name inside a single transaction.
func (s *SQLiteStore) WriteTable(ctx context.Context, name string, fr *frame.Frame, opts WriteOptions) (Import, error) {
	if err := validateWrite(name, fr); err != nil {
		return Import{}, err
	}
	exists, err := s.exists(ctx, name)
	if err != nil {
		return Import{}, errors.Wrap(err, "check table")
	}
	if exists && !opts.Overwrite {
		return Import{}, errors.Wrapf(ErrTableExists, "%s in %s", name, s.path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Import{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // No-op if already committed

	if exists {
		if err := dropSQLite(ctx, tx, name); err != nil {
			return Import{}, err
		}
	}

	defs := make([]string, fr.Width())
	for i, c := range fr.Columns() {
		defs[i] = fmt.Sprintf("%s %s", quoteIdentifier(c.Name()), sqliteTypes[c.Kind()])
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(name), strings.Join(defs, ", "))); err != nil {
		return Import{}, errors.Wrapf(err, "create table %s", name)
	}

	for i, c := range fr.Columns() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _columns (table_name, position, name, kind) VALUES (?, ?, ?, ?)`,
			name, i, c.Name(), c.Kind().String()); err != nil {
			return Import{}, errors.Wrap(err, "record column metadata")
		}
	}

	quoted := make([]string, fr.Width())
	marks := make([]string, fr.Width())
	for i, n := range fr.Names() {
		quoted[i] = quoteIdentifier(n)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(name), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return Import{}, errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for i := 0; i < fr.Len(); i++ {
		if _, err := stmt.ExecContext(ctx, rowValues(fr, i)...); err != nil {
			return Import{}, errors.Wrapf(err, "insert row %d", i)
		}
	}

	imp := Import{
		ID:         uuid.New(),
		Table:      name,
		Source:     opts.Source,
		Rows:       fr.Len(),
		ImportedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _imports (id, table_name, source, row_count, imported_at) VALUES (?, ?, ?, ?, ?)`,
		imp.ID.String(), imp.Table, imp.Source, imp.Rows, imp.ImportedAt.Format(time.RFC3339Nano)); err != nil {
		return Import{}, errors.Wrap(err, "record import")
	}

	if err := tx.Commit(); err != nil {
		return Import{}, errors.Wrap(err, "failed to commit")
	}

	slog.Info("table stored",
		"table", name,
		"store", s.path,
		"rows", imp.Rows,
		"columns", fr.Width(),
		"import_id", imp.ID,
	)
	return imp, nil
}

func dropSQLite(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(name))); err != nil {
		return errors.Wrapf(err, "drop table %s", name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _columns WHERE table_name = ?`, name); err != nil {
		return errors.Wrap(err, "delete column metadata")
	}
	return nil
}

// DropTable removes a table and its column metadata.
func (s *SQLiteStore) DropTable(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := dropSQLite(ctx, tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Columns lists the stored columns of a table.
func (s *SQLiteStore) Columns(ctx context.Context, name string) ([]ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind FROM _columns WHERE table_name = ? ORDER BY position`, name)
	if err != nil {
		return nil, errors.Wrap(err, "query column metadata")
	}
	defer rows.Close()

	var infos []ColumnInfo
	for rows.Next() {
		var info ColumnInfo
		if err := rows.Scan(&info.Name, &info.Type); err != nil {
			return nil, err
		}
		if info.Kind, err = frame.ParseKind(info.Type); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(infos) == 0 {
		exists, err := s.exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, tableNotFound(ctx, s, name, s.path)
		}
	}
	return infos, nil
}

// ReadTable loads a table, or only the given columns of it.
func (s *SQLiteStore) ReadTable(ctx context.Context, name string, columns ...string) (*frame.Frame, error) {
	infos, err := s.Columns(ctx, name)
	if err != nil {
		return nil, err
	}
	if infos, err = selectColumns(infos, columns); err != nil {
		return nil, errors.Wrapf(err, "table %s", name)
	}
	if len(infos) == 0 {
		return frame.New()
	}

	quoted := make([]string, len(infos))
	for i, n := range columnNames(infos) {
		quoted[i] = quoteIdentifier(n)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid",
		strings.Join(quoted, ", "), quoteIdentifier(name)))
	if err != nil {
		return nil, errors.Wrapf(err, "read table %s", name)
	}
	defer rows.Close()

	builders := make([]*builder, len(infos))
	for i, info := range infos {
		builders[i] = newBuilder(info)
	}
	dest := make([]any, len(infos))
	ptrs := make([]any, len(infos))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrapf(err, "scan table %s", name)
		}
		for i, b := range builders {
			if err := b.append(dest[i]); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols := make([]*frame.Column, len(builders))
	for i, b := range builders {
		cols[i] = b.column()
	}
	return frame.New(cols...)
}

// Tables lists user tables.
func (s *SQLiteStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE '\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// History lists past imports.
func (s *SQLiteStore) History(ctx context.Context) ([]Import, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, COALESCE(source, ''), row_count, imported_at FROM _imports ORDER BY rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "list imports")
	}
	defer rows.Close()

	var out []Import
	for rows.Next() {
		var (
			imp      Import
			id, when string
		)
		if err := rows.Scan(&id, &imp.Table, &imp.Source, &imp.Rows, &when); err != nil {
			return nil, err
		}
		if imp.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "import id %q", id)
		}
		if imp.ImportedAt, err = time.Parse(time.RFC3339Nano, when); err != nil {
			return nil, errors.Wrapf(err, "import time %q", when)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}
