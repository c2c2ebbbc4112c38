package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/report"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past conformance runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := report.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSCENARIO\tSTARTED\tDURATION\tPASSED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n",
					r.RunID[:8], r.Scenario,
					r.StartedAt.Local().Format(time.RFC3339),
					r.Duration.Round(time.Millisecond),
					r.Passed, r.Total)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "history", "s3s-conformance-history.db", "sqlite history file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
