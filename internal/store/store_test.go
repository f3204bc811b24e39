package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

func sampleFrame() *frame.Frame {
	return frame.MustNew(
		frame.NewInt("idmen", []int64{1, 1, 2}, nil),
		frame.NewFloat("salaire", []float64{1200.5, math.NaN(), 0}, nil),
		frame.NewBool("actif", []bool{true, false, true}, []bool{false, true, false}),
		frame.NewString("region", []string{"nord", "sud", ""}, nil),
	)
}

// storesUnderTest returns a SQLite store and, when SURVEY_TEST_DATABASE_URL
// is set, a PostgreSQL store on a throwaway schema.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	stores := make(map[string]Store)

	sq, err := Open(ctx, Options{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "sub", "survey.db")})
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	stores[BackendSQLite] = sq

	if url := os.Getenv("SURVEY_TEST_DATABASE_URL"); url != "" {
		schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		pg, err := OpenPostgres(ctx, Options{Backend: BackendPostgres, DatabaseURL: url, Schema: schema})
		require.NoError(t, err)
		t.Cleanup(func() {
			pg.pool.Exec(context.Background(), "DROP SCHEMA "+quoteIdentifier(schema)+" CASCADE")
			pg.Close()
		})
		stores[BackendPostgres] = pg
	}
	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for backend, st := range storesUnderTest(t) {
		t.Run(backend, func(t *testing.T) {
			in := sampleFrame()
			imp, err := st.WriteTable(ctx, "individus", in, WriteOptions{Source: "individus.csv"})
			require.NoError(t, err)
			assert.Equal(t, 3, imp.Rows)
			assert.NotEqual(t, uuid.Nil, imp.ID)

			out, err := st.ReadTable(ctx, "individus")
			require.NoError(t, err)
			assert.Equal(t, in.Names(), out.Names())
			assert.Equal(t, in.Len(), out.Len())

			for _, c := range in.Columns() {
				got, ok := out.Column(c.Name())
				require.True(t, ok)
				assert.Equal(t, c.Kind(), got.Kind(), "kind of %s", c.Name())
				for i := 0; i < c.Len(); i++ {
					assert.Equal(t, c.Value(i), got.Value(i), "%s[%d]", c.Name(), i)
				}
			}
		})
	}
}

func TestStore_ReadColumns(t *testing.T) {
	ctx := context.Background()
	for backend, st := range storesUnderTest(t) {
		t.Run(backend, func(t *testing.T) {
			_, err := st.WriteTable(ctx, "individus", sampleFrame(), WriteOptions{})
			require.NoError(t, err)

			out, err := st.ReadTable(ctx, "individus", "region", "idmen")
			require.NoError(t, err)
			assert.Equal(t, []string{"region", "idmen"}, out.Names())

			_, err = st.ReadTable(ctx, "individus", "nope")
			assert.True(t, errors.Is(err, frame.ErrColumnNotFound))

			infos, err := st.Columns(ctx, "individus")
			require.NoError(t, err)
			require.Len(t, infos, 4)
			assert.Equal(t, "salaire", infos[1].Name)
			assert.Equal(t, frame.Float, infos[1].Kind)
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	for backend, st := range storesUnderTest(t) {
		t.Run(backend, func(t *testing.T) {
			_, err := st.WriteTable(ctx, "menages", sampleFrame(), WriteOptions{})
			require.NoError(t, err)

			_, err = st.WriteTable(ctx, "menages", sampleFrame(), WriteOptions{})
			assert.True(t, errors.Is(err, ErrTableExists))

			smaller := frame.MustNew(frame.NewInt("idmen", []int64{9}, nil))
			_, err = st.WriteTable(ctx, "menages", smaller, WriteOptions{Overwrite: true})
			require.NoError(t, err)

			out, err := st.ReadTable(ctx, "menages")
			require.NoError(t, err)
			assert.Equal(t, []string{"idmen"}, out.Names())
			assert.Equal(t, 1, out.Len())

			history, err := st.History(ctx)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, 1, history[1].Rows)
		})
	}
}

func TestStore_TableNotFound(t *testing.T) {
	ctx := context.Background()
	for backend, st := range storesUnderTest(t) {
		t.Run(backend, func(t *testing.T) {
			_, err := st.WriteTable(ctx, "individus", sampleFrame(), WriteOptions{})
			require.NoError(t, err)

			_, err = st.ReadTable(ctx, "menages")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTableNotFound))
			assert.Contains(t, strings.Join(errors.GetAllDetails(err), " "), "individus")
		})
	}
}

func TestStore_TablesAndDrop(t *testing.T) {
	ctx := context.Background()
	for backend, st := range storesUnderTest(t) {
		t.Run(backend, func(t *testing.T) {
			for _, name := range []string{"menages", "individus"} {
				_, err := st.WriteTable(ctx, name, sampleFrame(), WriteOptions{})
				require.NoError(t, err)
			}

			tables, err := st.Tables(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"individus", "menages"}, tables)

			require.NoError(t, st.DropTable(ctx, "menages"))
			require.NoError(t, st.DropTable(ctx, "unknown"))

			tables, err = st.Tables(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"individus"}, tables)
		})
	}
}

func TestStore_RejectsReservedNames(t *testing.T) {
	ctx := context.Background()
	for backend, st := range storesUnderTest(t) {
		t.Run(backend, func(t *testing.T) {
			_, err := st.WriteTable(ctx, "_columns", sampleFrame(), WriteOptions{})
			assert.Error(t, err)

			_, err = st.WriteTable(ctx, "empty", frame.MustNew(), WriteOptions{})
			assert.Error(t, err)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "hdf5"})
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestWith_ClosesStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "survey.db")

	err := With(ctx, Options{Path: path}, func(st Store) error {
		_, err := st.WriteTable(ctx, "individus", sampleFrame(), WriteOptions{})
		return err
	})
	require.NoError(t, err)

	err = With(ctx, Options{Path: path}, func(st Store) error {
		fr, err := st.ReadTable(ctx, "individus")
		if err != nil {
			return err
		}
		assert.Equal(t, 3, fr.Len())
		return nil
	})
	require.NoError(t, err)
}
