package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/aggregate"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/report"
)

var (
	dateFrom string
	dateTo   string
	filters  []string
	showRows bool
)

// reportCmd represents the report command.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a filtered report with daily aggregates and balances",
	Long: fmt.Sprintf(`Print a report for a date range.

The report shows totals over the filtered rows, the daily sums of
std_amount, vendor settlements and settled client amounts, and the
daily balance chain. Filters are case-insensitive substring matches on
text columns (commonly %s).

Example:
  recon report --from 2025-01-01 --to 2025-01-31
  recon report --filter std_vendor=acme --rows`, strings.Join(report.FilterColumns, ", ")),
	Run: runReport,
}

func init() {
	addRangeFlags(reportCmd)
	reportCmd.Flags().BoolVar(&showRows, "rows", false, "Also print the filtered rows")
}

// addRangeFlags registers the date range and filter flags shared by report and export.
func addRangeFlags(c *cobra.Command) {
	c.Flags().StringVar(&dateFrom, "from", report.DefaultStart.Format("2006-01-02"), "Start date (YYYY-MM-DD)")
	c.Flags().StringVar(&dateTo, "to", "", "End date, inclusive (YYYY-MM-DD) (default today)")
	c.Flags().StringArrayVar(&filters, "filter", nil, "Column filter COLUMN=TEXT (repeatable)")
}

// reportRequest builds the request from the range flags.
func reportRequest(loc *time.Location) (report.Request, error) {
	req := report.Request{Filters: make(map[string]string)}

	var err error
	if dateFrom != "" {
		if req.Start, err = time.ParseInLocation("2006-01-02", dateFrom, loc); err != nil {
			return req, fmt.Errorf("invalid --from %q: %w", dateFrom, err)
		}
	}
	if dateTo != "" {
		if req.End, err = time.ParseInLocation("2006-01-02", dateTo, loc); err != nil {
			return req, fmt.Errorf("invalid --to %q: %w", dateTo, err)
		}
	}

	for _, f := range filters {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return req, fmt.Errorf("invalid --filter %q: expected COLUMN=TEXT", f)
		}
		req.Filters[name] = value
	}

	return req, nil
}

func runReport(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	req, err := reportRequest(a.reports.Location())
	a.exitOnError(err, "invalid arguments")

	view, err := a.reports.Build(cmd.Context(), req)
	a.exitOnError(err, "failed to build report")

	s := view.Summary
	fmt.Printf("\n=== Report %s .. %s ===\n", view.Start.Format("2006-01-02"), view.End.Format("2006-01-02"))
	fmt.Printf("Records:               %d\n", s.Records)
	fmt.Printf("std_amount:            %s\n", s.StdAmount.StringFixed(2))
	fmt.Printf("std_vendor_cost:       %s\n", s.StdVendorCost.StringFixed(2))
	fmt.Printf("std_admin_fee:         %s\n", s.StdAdminFee.StringFixed(2))
	fmt.Printf("std_admin_fee_invoice: %s\n", s.StdAdminFeeInvoice.StringFixed(2))
	fmt.Printf("Opening balance:       %s\n", nullText(s.OpeningBalance))
	fmt.Printf("Closing balance:       %s\n", nullText(s.ClosingBalance))

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	printSums(tw, "Transaction amounts", view.TransactionAmounts)
	printSums(tw, "Vendor settlements", view.VendorSettlements)
	printSums(tw, "Settled client amounts", view.SettledClientAmounts)

	fmt.Fprintln(tw, "\n--- Daily balances ---")
	fmt.Fprintln(tw, "DATE\tSTART\tEND\tROWS")
	for _, b := range view.DailyBalances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", b.Date.Format("2006-01-02"), nullText(b.StartingBalance), nullText(b.EndingBalance), b.RowCount)
	}

	if showRows {
		fmt.Fprintln(tw, "\n--- Rows ---")
		fmt.Fprintln(tw, "DATE\tVENDOR\tIDENTIFIER\tSTD_AMOUNT")
		for i := range view.Rows {
			r := &view.Rows[i]
			date := ""
			if r.StdTransactionDate.Valid {
				date = r.StdTransactionDate.Time.In(a.reports.Location()).Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", date, r.StdVendor.String, r.StdIdentifier.String, nullText(r.StdAmount))
		}
	}
	tw.Flush()
	fmt.Println()

	log.Info().Int("rows", s.Records).Int("balance_days", len(view.DailyBalances)).Msg("report displayed")
}

func printSums(tw *tabwriter.Writer, title string, sums []aggregate.DailySum) {
	fmt.Fprintf(tw, "\n--- %s ---\n", title)
	fmt.Fprintln(tw, "DATE\tSUM\tROWS")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Date.Format("2006-01-02"), nullText(s.Sum), s.Count)
	}
}

func nullText(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.StringFixed(2)
}
