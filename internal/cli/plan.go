package cli

import (
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nwdata/tablesync/internal/dag"
	"github.com/nwdata/tablesync/internal/engine"
)

const rounding = time.Millisecond

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the load order without writing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := engine.New(cmd.Context(), engineConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			tables, err := eng.Catalog(cmd.Context())
			if err != nil {
				return err
			}
			graph := dag.Build(tables)
			order, err := graph.Order()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "Table", "Depends On", "Update Column"})

			byName := make(map[string]string, len(tables))
			for _, tbl := range tables {
				byName[tbl.Name] = tbl.UpdateColumn
			}
			for i, name := range order {
				deps := strings.Join(graph.Parents(name), ", ")
				update := byName[name]
				if update == "" {
					update = "(full load)"
				}
				t.AppendRow(table.Row{i + 1, name, deps, update})
			}
			t.Render()
			return nil
		},
	}
}
