// Package commands implements the surveyctl subcommands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/config"
	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/store"
	"github.com/JonMunkholm/survey-manager/internal/survey"
)

// cfg is the process configuration, set by Setup before any command runs.
var cfg *config.Config

// Setup hands the loaded configuration to the commands.
func Setup(c *config.Config) {
	cfg = c
}

// storeOptions returns the collection options selecting the configured
// store backend.
func storeOptions() []survey.Option {
	if cfg == nil || !strings.EqualFold(cfg.Store.Backend, store.BackendPostgres) {
		return nil
	}
	return []survey.Option{survey.WithStore(store.Options{
		Backend:     store.BackendPostgres,
		DatabaseURL: cfg.Store.DatabaseURL,
		MaxConns:    cfg.Store.MaxConns,
		MinConns:    cfg.Store.MinConns,
	})}
}

// files reads config.toml, or starts an empty one when create is set and
// the file does not exist yet.
func files(create bool) (*config.Files, error) {
	f, err := cfg.Files()
	if err == nil {
		return f, nil
	}
	if !create || !errors.Is(err, config.ErrConfigFileNotFound) {
		return nil, err
	}
	f = config.NewFiles(cfg.Data.ConfigDir)
	f.Data.OutputDirectory = cfg.Data.OutputDir
	f.Data.TmpDirectory = cfg.Data.TmpDir
	return f, nil
}

func openCollection(name string) (*survey.Collection, error) {
	f, err := files(false)
	if err != nil {
		return nil, err
	}
	return survey.Open(f, name, storeOptions()...)
}

func openSurvey(collection, name string) (*survey.Survey, error) {
	c, err := openCollection(collection)
	if err != nil {
		return nil, err
	}
	return c.Survey(name)
}

// printFrame writes fr as an aligned table. Missing values print as NA.
func printFrame(w io.Writer, fr *frame.Frame) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(fr.Names(), "\t"))
	cols := fr.Columns()
	cells := make([]string, len(cols))
	for i := 0; i < fr.Len(); i++ {
		for j, c := range cols {
			v := c.Value(i)
			if v == nil {
				cells[j] = "NA"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
