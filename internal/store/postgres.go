package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

// DBTX is the subset of pgx used by the PostgreSQL store.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresStore keeps the tables of a survey in one schema of a shared
// PostgreSQL database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var postgresTypes = map[frame.Kind]string{
	frame.Float:  "DOUBLE PRECISION",
	frame.Int:    "BIGINT",
	frame.Bool:   "BOOLEAN",
	frame.String: "TEXT",
}

// OpenPostgres connects to opts.DatabaseURL and prepares opts.Schema.
func OpenPostgres(ctx context.Context, opts Options) (*PostgresStore, error) {
	if opts.DatabaseURL == "" {
		return nil, errors.New("postgres store: empty database URL")
	}
	if opts.Schema == "" {
		return nil, errors.New("postgres store: empty schema")
	}

	poolConfig, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse database URL")
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	st := &PostgresStore{pool: pool, schema: opts.Schema}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return st, nil
}

func (s *PostgresStore) ident(parts ...string) string {
	return pgx.Identifier(append([]string{s.schema}, parts...)).Sanitize()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{s.schema}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_name TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (table_name, position)
		)`, s.ident(columnsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			seq BIGSERIAL,
			table_name TEXT NOT NULL,
			source TEXT,
			row_count BIGINT NOT NULL,
			imported_at TIMESTAMPTZ NOT NULL
		)`, s.ident(importsTable)),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) location() string {
	return "schema " + s.schema
}

func (s *PostgresStore) exists(ctx context.Context, db DBTX, name string) (bool, error) {
	var ok bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		s.schema, name).Scan(&ok)
	return ok, err
}

// WriteTable stores fr under name using the COPY protocol, inside a
// single transaction.
func (s *PostgresStore) WriteTable(ctx context.Context, name string, fr *frame.Frame, opts WriteOptions) (Import, error) {
	if err := validateWrite(name, fr); err != nil {
		return Import{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Import{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) // No-op if already committed

	exists, err := s.exists(ctx, tx, name)
	if err != nil {
		return Import{}, errors.Wrap(err, "check table")
	}
	if exists && !opts.Overwrite {
		return Import{}, errors.Wrapf(ErrTableExists, "%s in %s", name, s.location())
	}
	if exists {
		if err := s.drop(ctx, tx, name); err != nil {
			return Import{}, err
		}
	}

	defs := make([]string, fr.Width())
	for i, c := range fr.Columns() {
		defs[i] = fmt.Sprintf("%s %s", quoteIdentifier(c.Name()), postgresTypes[c.Kind()])
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", s.ident(name), strings.Join(defs, ", "))); err != nil {
		return Import{}, errors.Wrapf(err, "create table %s", name)
	}

	batch := &pgx.Batch{}
	for i, c := range fr.Columns() {
		batch.Queue(fmt.Sprintf(`INSERT INTO %s (table_name, position, name, kind) VALUES ($1, $2, $3, $4)`, s.ident(columnsTable)),
			name, i, c.Name(), c.Kind().String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return Import{}, errors.Wrap(err, "record column metadata")
	}

	rows := make([][]any, fr.Len())
	for i := range rows {
		rows[i] = rowValues(fr, i)
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{s.schema, name}, fr.Names(), pgx.CopyFromRows(rows))
	if err != nil {
		return Import{}, errors.Wrapf(err, "copy rows into %s", name)
	}

	imp := Import{
		ID:         uuid.New(),
		Table:      name,
		Source:     opts.Source,
		Rows:       int(copied),
		ImportedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, table_name, source, row_count, imported_at) VALUES ($1, $2, $3, $4, $5)`, s.ident(importsTable)),
		imp.ID.String(), imp.Table, imp.Source, imp.Rows, imp.ImportedAt); err != nil {
		return Import{}, errors.Wrap(err, "record import")
	}

	if err := tx.Commit(ctx); err != nil {
		return Import{}, errors.Wrap(err, "failed to commit")
	}

	slog.Info("table stored",
		"table", name,
		"store", s.location(),
		"rows", imp.Rows,
		"columns", fr.Width(),
		"import_id", imp.ID,
	)
	return imp, nil
}

func (s *PostgresStore) drop(ctx context.Context, db DBTX, name string) error {
	if _, err := db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.ident(name))); err != nil {
		return errors.Wrapf(err, "drop table %s", name)
	}
	if _, err := db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE table_name = $1`, s.ident(columnsTable)), name); err != nil {
		return errors.Wrap(err, "delete column metadata")
	}
	return nil
}

// DropTable removes a table and its column metadata.
func (s *PostgresStore) DropTable(ctx context.Context, name string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := s.drop(ctx, tx, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Columns lists the stored columns of a table.
func (s *PostgresStore) Columns(ctx context.Context, name string) ([]ColumnInfo, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT name, kind FROM %s WHERE table_name = $1 ORDER BY position`, s.ident(columnsTable)), name)
	if err != nil {
		return nil, errors.Wrap(err, "query column metadata")
	}
	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ColumnInfo, error) {
		var info ColumnInfo
		if err := row.Scan(&info.Name, &info.Type); err != nil {
			return info, err
		}
		kind, err := frame.ParseKind(info.Type)
		info.Kind = kind
		return info, err
	})
	if err != nil {
		return nil, err
	}

	if len(infos) == 0 {
		exists, err := s.exists(ctx, s.pool, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, tableNotFound(ctx, s, name, s.location())
		}
	}
	return infos, nil
}

// ReadTable loads a table, or only the given columns of it.
func (s *PostgresStore) ReadTable(ctx context.Context, name string, columns ...string) (*frame.Frame, error) {
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
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), s.ident(name)))
	if err != nil {
		return nil, errors.Wrapf(err, "read table %s", name)
	}
	defer rows.Close()

	builders := make([]*builder, len(infos))
	for i, info := range infos {
		builders[i] = newBuilder(info)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrapf(err, "scan table %s", name)
		}
		for i, b := range builders {
			if err := b.append(values[i]); err != nil {
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

// Tables lists user tables of the schema.
func (s *PostgresStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_name NOT LIKE '\_%'
		 ORDER BY table_name`, s.schema)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// History lists past imports.
func (s *PostgresStore) History(ctx context.Context) ([]Import, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id::text, table_name, COALESCE(source, ''), row_count, imported_at FROM %s ORDER BY seq`,
		s.ident(importsTable)))
	if err != nil {
		return nil, errors.Wrap(err, "list imports")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Import, error) {
		var (
			imp Import
			id  string
			n   int64
		)
		if err := row.Scan(&id, &imp.Table, &imp.Source, &n, &imp.ImportedAt); err != nil {
			return imp, err
		}
		imp.Rows = int(n)
		parsed, err := uuid.Parse(id)
		imp.ID = parsed
		return imp, err
	})
}
