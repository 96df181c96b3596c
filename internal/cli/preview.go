package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/cadence/internal/dates"
	"github.com/watzon/cadence/internal/recurrence"
)

var (
	previewFrom  string
	previewCount int
)

var previewCmd = &cobra.Command{
	Use:   "preview <rule.yaml|->",
	Short: "Print the dates a recurrence rule produces",
	Long: `Print the dates a recurrence rule produces, starting from a first due date.
The rule uses the same keys as the stored JSON form:

  frequency: monthly
  dayOfMonth: 31
  endCondition:
    type: afterOccurrences
    count: 6

Pass - to read the rule from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewFrom, "from", "today", "First due date (today, tomorrow or YYYY-MM-DD)")
	previewCmd.Flags().IntVarP(&previewCount, "count", "n", 10, "Number of dates to print")

	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading rule: %w", err)
	}

	loc, err := appConfig.Recurrence.Location()
	if err != nil {
		return err
	}

	return printPreview(cmd.OutOrStdout(), data, previewFrom, previewCount, time.Now().In(loc))
}

func printPreview(w io.Writer, data []byte, from string, count int, now time.Time) error {
	rule, err := recurrence.ParseYAML(data)
	if err != nil {
		return err
	}
	rule = rule.Normalize()
	if err := rule.Validate(); err != nil {
		return err
	}

	first, ok := dates.ParseDate(from, now)
	if !ok {
		return fmt.Errorf("unrecognized date %q", from)
	}
	if count < 1 {
		return fmt.Errorf("count must be at least 1")
	}

	list := recurrence.Dates(rule, first, count)

	fmt.Fprintln(w, recurrence.Summary(rule))
	for i := range list {
		fmt.Fprintf(w, "%3d  %s  %s\n", i+1, list[i].Weekday().String()[:3], dates.FormatDate(&list[i]))
	}
	if len(list) < count {
		fmt.Fprintln(w, "(series ends)")
	}
	return nil
}
