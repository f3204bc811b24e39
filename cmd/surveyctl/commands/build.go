package commands

import (
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/survey-manager/internal/config"
	"github.com/JonMunkholm/survey-manager/internal/source"
	"github.com/JonMunkholm/survey-manager/internal/survey"
)

// BuildCmd creates a collection from raw_data.toml.
var BuildCmd = &cobra.Command{
	Use:   "build <collection>",
	Short: "Create a collection from its raw data directories",
	Long: `build - Create a collection from its raw data directories

Every readable file found in the raw data directory of a survey (as listed
in raw_data.toml) is recorded in the collection file, which is then
registered in config.toml. No data is imported; run fill for that.

Examples:
  surveyctl build erfs
  surveyctl build erfs --path /data/collections/erfs.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

var buildPathFlag string

func init() {
	BuildCmd.Flags().StringVar(&buildPathFlag, "path", "", "Collection file (default <config dir>/<collection>.yaml)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	name := args[0]

	raw, err := config.ReadRawData(cfg.Data.ConfigDir)
	if err != nil {
		return err
	}
	dirs, ok := raw[name]
	if !ok || len(dirs) == 0 {
		return errors.WithHintf(
			errors.Wrapf(config.ErrUnknownCollection, "%q has no section in %s", name, config.RawDataFileName),
			"add one with: surveyctl config raw-data %s <survey>=<directory>", name)
	}

	f, err := files(true)
	if err != nil {
		return err
	}
	path := buildPathFlag
	if path == "" {
		path = filepath.Join(cfg.Data.ConfigDir, name+".yaml")
	}
	if !filepath.IsAbs(path) {
		if path, err = filepath.Abs(path); err != nil {
			return errors.Wrap(err, "resolve collection path")
		}
	}

	opts := append([]survey.Option{
		survey.WithPath(path),
		survey.WithOutputDir(f.Data.OutputDirectory),
	}, storeOptions()...)
	c, err := survey.Build(cmd.Context(), name, dirs, opts...)
	if err != nil {
		return err
	}
	if err := c.Dump(); err != nil {
		return err
	}

	f.SetCollection(name, path)
	if err := f.Write(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "collection %s written to %s\n", name, path)
	for _, sn := range c.SurveyNames() {
		s, _ := c.Survey(sn)
		n := 0
		for _, format := range []source.Format{source.Stata, source.SAS, source.SPSS, source.RData, source.CSV} {
			n += len(s.SourceFiles(format))
		}
		fmt.Fprintf(out, "  %s\t%d files\n", sn, n)
	}
	return nil
}
