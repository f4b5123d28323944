package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsUploads int

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display ledger statistics",
	Long: `Display statistics about the ledger.

Shows:
- Records and std_amount total of the trailing seven days
- Total number of stored records
- Latest last_updated timestamp
- Recent uploads

Example:
  recon stats`,
	Run: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsUploads, "uploads", 5, "Number of recent uploads to list")
}

func runStats(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	quick, err := a.reports.Stats(cmd.Context(), time.Now())
	a.exitOnError(err, "failed to get quick statistics")

	stats, err := a.store.GetStats(cmd.Context())
	a.exitOnError(err, "failed to get statistics")

	fmt.Println("\n=== Ledger Statistics ===")
	fmt.Printf("Records since %s: %d\n", quick.Since.Format("2006-01-02"), quick.Records)
	fmt.Printf("std_amount since %s: %s\n", quick.Since.Format("2006-01-02"), quick.TotalAmount.StringFixed(2))
	fmt.Printf("Total records:           %d\n", stats.TotalRecords)

	if stats.LastUpdated.Valid {
		fmt.Printf("Last updated:            %s\n", stats.LastUpdated.Time.In(a.reports.Location()).Format(time.RFC3339))
	} else {
		fmt.Printf("Last updated:            (never)\n")
	}

	if statsUploads > 0 {
		uploads, err := a.history.RecentUploads(cmd.Context(), statsUploads)
		a.exitOnError(err, "failed to list uploads")

		fmt.Println("\n=== Recent Uploads ===")
		if len(uploads) == 0 {
			fmt.Println("(none)")
		}
		for _, u := range uploads {
			fmt.Printf("%s  %-8s %-24s rows=%d inserted=%d updated=%d duplicates=%d\n",
				u.UploadedAt.In(a.reports.Location()).Format("2006-01-02 15:04"),
				u.Policy, u.Filename, u.TotalRows, u.Inserted, u.Updated, u.Duplicates)
		}
	}

	fmt.Println()

	log.Info().Msg("statistics displayed successfully")
}
