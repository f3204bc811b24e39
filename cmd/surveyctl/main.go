package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/survey-manager/cmd/surveyctl/commands"
	"github.com/JonMunkholm/survey-manager/internal/config"
	"github.com/JonMunkholm/survey-manager/internal/logging"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "surveyctl",
	Short: "surveyctl - Survey data collections and their stores",
	Long: `surveyctl - Build survey collections from raw data and query their stores.

A collection groups the surveys of one source (erfs, eec, ...). Each survey
lists its raw data files and owns a store holding one table per file.

Available commands:
  config   - Write raw_data.toml or show the process configuration
  build    - Create a collection from the raw data directories
  fill     - Import the raw data files of surveys into their stores
  info     - Describe a collection or a survey
  columns  - List the columns of a stored table
  values   - Print variables of a stored table
  serve    - Start the read-only browse API

Examples:
  surveyctl config raw-data erfs erfs_2010=/data/erfs/2010
  surveyctl build erfs
  surveyctl fill erfs erfs_2010 --format stata
  surveyctl values erfs erfs_2010 menages ident loyer --limit 10
  surveyctl serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Overload so that .env wins over inherited variables
		if err := godotenv.Overload(envFile); err != nil {
			slog.Debug("no .env file loaded, using environment variables", "file", envFile)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		commands.Setup(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")

	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.BuildCmd)
	rootCmd.AddCommand(commands.FillCmd)
	rootCmd.AddCommand(commands.InfoCmd)
	rootCmd.AddCommand(commands.ColumnsCmd)
	rootCmd.AddCommand(commands.ValuesCmd)
	rootCmd.AddCommand(commands.ServeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
