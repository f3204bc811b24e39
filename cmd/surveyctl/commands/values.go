package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/survey-manager/internal/survey"
)

// ColumnsCmd lists the columns of a stored table.
var ColumnsCmd = &cobra.Command{
	Use:   "columns <collection> <survey> <table>",
	Short: "List the columns of a stored table",
	Args:  cobra.ExactArgs(3),
	RunE:  runColumns,
}

// ValuesCmd prints variables of a stored table.
var ValuesCmd = &cobra.Command{
	Use:   "values <collection> <survey> <table> [variable...]",
	Short: "Print variables of a stored table",
	Long: `values - Print variables of a stored table

Without variables every column is printed. Requested variables missing
from the table are reported with the list of available columns.

Examples:
  surveyctl values erfs erfs_2010 menages
  surveyctl values erfs erfs_2010 individus ident noi salaire --limit 20
  surveyctl values erfs erfs_2010 individus IDENT10 --rename-ident=false`,
	Args: cobra.MinimumNArgs(3),
	RunE: runValues,
}

var (
	valuesLowercaseFlag   bool
	valuesRenameIdentFlag bool
	valuesLimitFlag       int
)

func init() {
	ValuesCmd.Flags().BoolVar(&valuesLowercaseFlag, "lowercase", false, "Put column names in lower case")
	ValuesCmd.Flags().BoolVar(&valuesRenameIdentFlag, "rename-ident", true, "Rename the identNN column to ident")
	ValuesCmd.Flags().IntVar(&valuesLimitFlag, "limit", 0, "Print at most this many rows (0 prints all)")
}

func runColumns(cmd *cobra.Command, args []string) error {
	s, err := openSurvey(args[0], args[1])
	if err != nil {
		return err
	}
	cols, err := s.Columns(cmd.Context(), args[2])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE")
	for _, c := range cols {
		fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Type)
	}
	return tw.Flush()
}

func runValues(cmd *cobra.Command, args []string) error {
	s, err := openSurvey(args[0], args[1])
	if err != nil {
		return err
	}
	fr, err := s.GetValues(cmd.Context(), args[2], args[3:], survey.ValuesOptions{
		Lowercase:   valuesLowercaseFlag,
		RenameIdent: valuesRenameIdentFlag,
	})
	if err != nil {
		return err
	}
	if valuesLimitFlag > 0 {
		fr = fr.Head(valuesLimitFlag)
	}
	return printFrame(cmd.OutOrStdout(), fr)
}
