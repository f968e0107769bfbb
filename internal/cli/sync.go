package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nwdata/tablesync/internal/engine"
	"github.com/nwdata/tablesync/internal/ledger"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a synchronization against the configured destination",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Destination == nil || cfg.Destination.Type == "" {
				return fmt.Errorf("no destination configured; set destination.type or --destination-type")
			}

			eng, err := engine.New(cmd.Context(), engineConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			summary, err := eng.Run(cmd.Context())
			if err != nil {
				return err
			}

			renderSummary(summary)
			if !summary.OK() {
				_, failed, partial, skipped := summary.Counts()
				return fmt.Errorf("sync finished with %d failed, %d partial, %d skipped tables",
					failed, partial, skipped)
			}
			return nil
		},
	}
}

func renderSummary(s *engine.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Status", "Rows", "Attempts", "Duration"})
	for _, r := range s.Results {
		status := r.Status
		if r.FullLoad && r.Status == ledger.StatusSuccess {
			status += " (full load)"
		}
		t.AppendRow(table.Row{r.Table, status, r.Rows, r.Attempts, r.Duration.Round(rounding)})
	}
	t.Render()

	fmt.Printf("Run %s finished in %s\n", s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(rounding))
}
