package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/export"
)

var (
	exportTable   string
	exportOutput  string
	exportFormat  string
	exportColumns []string
)

// exportCmd represents the export command.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a report table to CSV or XLSX",
	Long: fmt.Sprintf(`Export one report table to a file.

Tables: %s

The default output is {export dir}/{year}/reconciliation_{table}_{yyyymmdd}.csv.

Example:
  recon export --from 2025-01-01 --to 2025-01-31
  recon export --table daily-balances --format xlsx -o balances.xlsx`, strings.Join(export.TableNames, ", ")),
	Run: runExport,
}

func init() {
	addRangeFlags(exportCmd)
	exportCmd.Flags().StringVar(&exportTable, "table", export.TableRows, "Table to export")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (.csv or .xlsx)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Format when --output is not set (csv, xlsx)")
	exportCmd.Flags().StringSliceVar(&exportColumns, "columns", nil, "Row columns for the rows table")
}

func runExport(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	req, err := reportRequest(a.reports.Location())
	a.exitOnError(err, "invalid arguments")

	view, err := a.reports.Build(cmd.Context(), req)
	a.exitOnError(err, "failed to build report")

	table, err := export.FromView(view, exportTable, exportColumns, a.reports.Location())
	a.exitOnError(err, "failed to build table")

	path := exportOutput
	if path == "" {
		path = a.paths.GetExportPath(table.Name, time.Now().In(a.reports.Location()))
		switch strings.ToLower(exportFormat) {
		case "csv":
		case "xlsx":
			path = strings.TrimSuffix(path, ".csv") + ".xlsx"
		default:
			a.exitOnError(fmt.Errorf("expected csv or xlsx, got %q", exportFormat), "invalid format")
		}
	}

	a.exitOnError(a.paths.EnsureParentDir(path), "failed to create export directory")
	a.exitOnError(export.WriteFile(path, table), "failed to write export")

	fmt.Printf("Exported %d rows to %s\n", len(table.Rows), path)
	log.Info().Str("table", table.Name).Str("path", path).Int("rows", len(table.Rows)).Msg("export written")
}
