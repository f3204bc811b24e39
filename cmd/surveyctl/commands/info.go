package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/survey-manager/internal/survey"
)

// InfoCmd describes a collection or one of its surveys.
var InfoCmd = &cobra.Command{
	Use:   "info <collection> [survey]",
	Short: "Describe a collection or a survey",
	Long: `info - Describe a collection or a survey

Without a survey the surveys of the collection are listed with the number
of tables they describe. With a survey its summary is printed.

Examples:
  surveyctl info erfs
  surveyctl info erfs erfs_2010
  surveyctl info erfs erfs_2010 --json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInfo,
}

var infoJSONFlag bool

func init() {
	InfoCmd.Flags().BoolVar(&infoJSONFlag, "json", false, "Print the JSON description")
}

func runInfo(cmd *cobra.Command, args []string) error {
	c, err := openCollection(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		if infoJSONFlag {
			b, err := c.ToJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		return printCollection(cmd, c)
	}

	s, err := c.Survey(args[1])
	if err != nil {
		return err
	}
	if infoJSONFlag {
		b, err := s.ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
		return nil
	}
	fmt.Fprint(out, s.Summary())
	return nil
}

func printCollection(cmd *cobra.Command, c *survey.Collection) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s)\n", c.Name, c.Label)
	fmt.Fprintln(tw, "SURVEY\tTABLES\tSTORE")
	for _, name := range c.SurveyNames() {
		s, err := c.Survey(name)
		if err != nil {
			return err
		}
		storePath := s.StorePath
		if storePath == "" {
			storePath = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(s.Tables), storePath)
	}
	return tw.Flush()
}
