package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// initDBCmd represents the init-db command.
var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the ledger schema",
	Long: `Create the ledger and upload history tables and their indexes.

Running it again is a no-op. Every other command also creates the
schema on first use.

Example:
  recon init-db`,
	Run: runInitDB,
}

func runInitDB(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	if a.created {
		fmt.Printf("Created ledger database in %s\n", a.paths.GetDataDir())
	}
	fmt.Printf("Schema ready (%s)\n", a.cfg.Database.Driver)
	log.Info().Str("driver", a.cfg.Database.Driver).Bool("created", a.created).Msg("schema initialized")
}
