package cli

import (
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nwdata/tablesync/internal/engine"
)

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the source tables and their sync metadata",
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

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Table", "Columns", "Primary Key", "Foreign Keys", "Update Column"})
			for _, tbl := range tables {
				fks := make([]string, 0, len(tbl.ForeignKeys))
				for _, fk := range tbl.ForeignKeys {
					fks = append(fks, fk.Column+" -> "+fk.RefTable)
				}
				t.AppendRow(table.Row{
					tbl.Name,
					len(tbl.Columns),
					strings.Join(tbl.PrimaryKey, ", "),
					strings.Join(fks, ", "),
					tbl.UpdateColumn,
				})
			}
			t.Render()
			return nil
		},
	}
}
