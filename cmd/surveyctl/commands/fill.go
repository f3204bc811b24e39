package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/survey-manager/internal/source"
	"github.com/JonMunkholm/survey-manager/internal/survey"
)

// FillCmd imports raw data files into survey stores.
var FillCmd = &cobra.Command{
	Use:   "fill <collection> [survey...]",
	Short: "Import the raw data files of surveys into their stores",
	Long: `fill - Import the raw data files of surveys into their stores

Each source file becomes one table named after the file. Without survey
arguments every survey of the collection is filled. Existing tables are
replaced unless --overwrite=false is given, in which case they are kept
and only new tables are imported.

Examples:
  surveyctl fill erfs
  surveyctl fill erfs erfs_2010 --format stata
  surveyctl fill erfs erfs_2010 --tables menages --overwrite=false`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFill,
}

var (
	fillOverwriteFlag bool
	fillTablesFlag    []string
	fillFormatFlag    string
)

func init() {
	FillCmd.Flags().BoolVar(&fillOverwriteFlag, "overwrite", true, "Replace tables already in the store")
	FillCmd.Flags().StringSliceVar(&fillTablesFlag, "tables", nil, "Only import these tables (file base names)")
	FillCmd.Flags().StringVar(&fillFormatFlag, "format", "", "Only import files of this format: sas, stata, spss, Rdata, csv")
}

func runFill(cmd *cobra.Command, args []string) error {
	opts := survey.FillOptions{
		Tables:    fillTablesFlag,
		Overwrite: survey.OverwriteAll(fillOverwriteFlag),
	}
	if fillFormatFlag != "" {
		format, err := source.ParseFormat(fillFormatFlag)
		if err != nil {
			return err
		}
		opts.Format = format
	}

	c, err := openCollection(args[0])
	if err != nil {
		return err
	}
	names := args[1:]
	if len(names) == 0 {
		names = c.SurveyNames()
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		s, err := c.Survey(name)
		if err != nil {
			return err
		}
		res, err := s.FillStore(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d imported, %d skipped\n", name, len(res.Imported), len(res.Skipped))
		for _, imp := range res.Imported {
			fmt.Fprintf(out, "  %s\t%d rows\n", imp.Table, imp.Rows)
		}
	}
	return nil
}
