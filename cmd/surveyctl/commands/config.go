package commands

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/survey-manager/internal/config"
)

// ConfigCmd groups the configuration commands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage surveyctl configuration",
	Long: `config - Manage the configuration directory

The configuration directory (SURVEY_CONFIG_DIR) holds config.toml, which
registers the collections, and raw_data.toml, which maps each survey of a
collection to its raw data directory.

Examples:
  surveyctl config raw-data erfs erfs_2010=/data/erfs/2010 erfs_2011=/data/erfs/2011
  surveyctl config show`,
}

var configRawDataCmd = &cobra.Command{
	Use:   "raw-data <collection> <survey=directory>...",
	Short: "Set the raw data directories of a collection in raw_data.toml",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runConfigRawData,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the process configuration and registered collections",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var rawDataReplaceFlag bool

func init() {
	ConfigCmd.AddCommand(configRawDataCmd)
	ConfigCmd.AddCommand(configShowCmd)
	configRawDataCmd.Flags().BoolVar(&rawDataReplaceFlag, "replace", false, "Replace the collection section instead of merging into it")
}

func runConfigRawData(cmd *cobra.Command, args []string) error {
	collection := args[0]
	dirs := make(map[string]string, len(args)-1)
	for _, arg := range args[1:] {
		name, dir, ok := strings.Cut(arg, "=")
		if !ok || name == "" || dir == "" {
			return errors.WithHint(
				errors.Newf("invalid argument %q", arg),
				"raw data directories are given as survey=directory")
		}
		dirs[name] = dir
	}

	raw, err := config.ReadRawData(cfg.Data.ConfigDir)
	if errors.Is(err, config.ErrConfigFileNotFound) {
		raw = make(config.RawData)
	} else if err != nil {
		return err
	}

	section := raw[collection]
	if section == nil || rawDataReplaceFlag {
		section = make(map[string]string, len(dirs))
	}
	for name, dir := range dirs {
		section[name] = dir
	}
	raw[collection] = section

	if err := config.WriteRawDataConfig(cfg.Data.ConfigDir, raw); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "raw data of %s: %d surveys\n", collection, len(section))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cfg.String())

	f, err := files(false)
	if errors.Is(err, config.ErrConfigFileNotFound) {
		fmt.Fprintf(out, "no %s in %s\n", config.ConfigFileName, cfg.Data.ConfigDir)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "output directory: %s\n", f.Data.OutputDirectory)
	for _, name := range f.CollectionNames() {
		path, err := f.CollectionPath(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s\t%s\n", name, path)
	}
	return nil
}
