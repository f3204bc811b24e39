package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/survey-manager/internal/frame"
)

func TestFormatFromExtension(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{path: "data/menage.sas7bdat", want: SAS},
		{path: "indiv.DTA", want: Stata},
		{path: "x.sav", want: SPSS},
		{path: "x.Rdata", want: RData},
		{path: "x.csv", want: CSV},
		{path: "x.xlsx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromExtension(tt.path)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("RDATA")
	require.NoError(t, err)
	assert.Equal(t, RData, f)
	assert.Equal(t, "Rdata", f.Extension())
	assert.Equal(t, "sas_files", SAS.FilesKey())

	_, err = ParseFormat("parquet")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLookup_Unsupported(t *testing.T) {
	for _, f := range []Format{SPSS, RData} {
		_, err := Lookup(f)
		assert.True(t, errors.Is(err, ErrUnsupportedFormat), "format %s", f)
	}
	assert.ElementsMatch(t, []Format{CSV, SAS, Stata}, Supported())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFile_CSV(t *testing.T) {
	path := writeFile(t, "individus.csv",
		"IDENT09,quimen,salaire,region\n"+
			"1,0,1000.5,nord\n"+
			"1,1,,sud\n"+
			"2,0,300,est\n")

	fr, err := ReadFile(path, CSV)
	require.NoError(t, err)
	assert.Equal(t, 3, fr.Len())
	assert.Equal(t, []string{"IDENT09", "quimen", "salaire", "region"}, fr.Names())

	sal, ok := fr.Column("salaire")
	require.True(t, ok)
	assert.Equal(t, frame.Float, sal.Kind())
	assert.True(t, sal.IsMissing(1))
	assert.Equal(t, 1000.5, sal.Floats()[0])

	region, _ := fr.Column("region")
	assert.Equal(t, frame.String, region.Kind())
}

func TestReadFile_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "x.sav", "")
	_, err := ReadFile(path, SPSS)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestReadFile_MissingFile(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"), CSV)
	assert.Error(t, err)
}

func TestRenameIdent(t *testing.T) {
	fr := frame.MustNew(
		frame.NewInt("noi", []int64{1}, nil),
		frame.NewInt("ident10", []int64{1}, nil),
		frame.NewInt("IDENT2011", []int64{1}, nil),
	)

	got, err := RenameIdent(fr)
	require.NoError(t, err)
	assert.Equal(t, []string{"noi", "ident", "IDENT2011"}, got.Names())

	// Only whole names match.
	fr = frame.MustNew(frame.NewInt("ident123456", []int64{1}, nil), frame.NewInt("xident09", []int64{1}, nil))
	got, err = RenameIdent(fr)
	require.NoError(t, err)
	assert.Equal(t, []string{"ident123456", "xident09"}, got.Names())
}

func TestClean(t *testing.T) {
	fr := frame.MustNew(
		frame.NewInt(" IDENT09 ", []int64{1, 2}, nil),
		frame.NewString("Region", []string{" nord  ", "sud"}, nil),
	)

	got, err := Clean(fr, CleanOptions{Lowercase: true, RenameIdent: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ident", "region"}, got.Names())

	region, _ := got.Column("region")
	assert.Equal(t, []string{"nord", "sud"}, region.Strings())

	kept, err := Clean(fr, CleanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"IDENT09", "Region"}, kept.Names())
}
