package cli

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nwdata/tablesync/internal/engine"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync runs from the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := engine.New(cmd.Context(), engineConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			entries, err := eng.Ledger().ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Run", "Table", "Destination", "Status", "Rows", "Attempts", "Finished At", "Error"})
			for _, e := range entries {
				errText := e.Error
				if len(errText) > 60 {
					errText = errText[:57] + "..."
				}
				t.AppendRow(table.Row{
					shortID(e.RunID), e.Table, e.Destination, e.Status,
					e.RowsAffected, e.Attempts,
					e.FinishedAt.Format("2006-01-02 15:04:05"), errText,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show")
	return cmd
}

// shortID truncates a run UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
