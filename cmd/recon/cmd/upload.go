package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ingest"
)

var (
	uploadPolicy  string
	uploadKey     string
	uploadPreview int
)

// uploadCmd represents the upload command.
var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload CSV or Excel extracts into the ledger",
	Long: `Upload CSV or XLSX extracts into the ledger.

Each file is normalized to the ledger columns and written in one
transaction. Duplicate handling is chosen with --policy:
  skip     keep stored rows, insert rows with new keys
  update   overwrite stored rows that share the key
  add-all  insert every row

Example:
  recon upload jan.csv
  recon upload --policy update --key tx_id jan.xlsx feb.xlsx
  recon upload --preview 5 jan.csv`,
	Args: cobra.MinimumNArgs(1),
	Run:  runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadPolicy, "policy", string(ingest.PolicySkip), "Duplicate policy (skip, update, add-all)")
	uploadCmd.Flags().StringVar(&uploadKey, "key", ingest.DefaultKeyColumn, "Key column (id, std_identifier, tx_id)")
	uploadCmd.Flags().IntVar(&uploadPreview, "preview", 0, "Show the first N rows without writing")
}

func runUpload(cmd *cobra.Command, args []string) {
	policy, err := ingest.ParsePolicy(uploadPolicy)
	exitOnError(err, "invalid policy")

	a := openApp(cmd.Context())
	defer a.Close()

	for _, path := range args {
		f, err := os.Open(path)
		a.exitOnError(err, "failed to open file")

		name := filepath.Base(path)
		if uploadPreview > 0 {
			preview, err := a.uploader.Preview(name, f, uploadPreview)
			f.Close()
			a.exitOnError(err, "failed to preview file")
			printPreview(preview)
			continue
		}

		result, err := a.uploader.Upload(cmd.Context(), name, f, ingest.Options{Policy: policy, KeyColumn: uploadKey})
		f.Close()
		a.exitOnError(err, "failed to upload file")
		printResult(result)
	}
}

func printPreview(p *ingest.Preview) {
	fmt.Printf("\n=== %s (%d rows, %d columns) ===\n", p.Filename, p.Rows, p.Columns)
	fmt.Printf("Mapped:  %s\n", strings.Join(p.Mapped, ", "))
	if len(p.Dropped) > 0 {
		fmt.Printf("Dropped: %s\n", strings.Join(p.Dropped, ", "))
	}
	fmt.Println(strings.Join(p.Header, " | "))
	for _, row := range p.Sample {
		fmt.Println(strings.Join(row, " | "))
	}
	fmt.Println()
}

func printResult(r *ingest.Result) {
	fmt.Printf("\n=== %s ===\n", r.Filename)
	fmt.Printf("Batch:       %s\n", r.BatchID)
	fmt.Printf("Policy:      %s (key %s)\n", r.Policy, r.KeyColumn)
	fmt.Printf("Total rows:  %d\n", r.TotalRows)
	fmt.Printf("Inserted:    %d\n", r.Inserted)
	fmt.Printf("Updated:     %d\n", r.Updated)
	fmt.Printf("Duplicates:  %d\n", r.Duplicates)
	if r.Superseded > 0 {
		fmt.Printf("Superseded:  %d\n", r.Superseded)
	}
	if len(r.Dropped) > 0 {
		fmt.Printf("Dropped:     %s\n", strings.Join(r.Dropped, ", "))
	}
	for col, n := range r.Coerced {
		fmt.Printf("Nulled:      %s (%d)\n", col, n)
	}
	for _, note := range r.Notes {
		fmt.Printf("Note:        %s\n", note)
	}
	fmt.Println()
}
