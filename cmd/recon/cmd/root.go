// Package cmd provides CLI commands for recon.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/config"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/db"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ingest"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/logger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/normalize"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/pathutil"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/report"
)

var (
	cfgFile string
	debug   bool
	log     zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "recon",
	Short: "Reconciliation ledger for uploaded transaction extracts",
	Long: `recon ingests CSV and Excel transaction extracts into a reconciliation
ledger and reports on it.

It supports:
- Uploading extracts with skip, update or add-all duplicate handling
- Filtered reports with daily aggregates and a carried balance chain
- CSV and XLSX exports of every report table
- An HTTP API serving the same operations

Example:
  recon init-db
  recon upload --policy update --key std_identifier jan.csv
  recon report --from 2025-01-01 --to 2025-01-31 --filter std_vendor=acme
  recon serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.New(debug)
		cmd.SetContext(logger.WithContext(cmd.Context(), log))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

// app holds the components shared by the subcommands.
type app struct {
	cfg      *config.Config
	paths    *pathutil.PathResolver
	conn     *db.Connection
	store    *db.LedgerStore
	history  *db.UploadHistory
	uploader *ingest.Uploader
	reports  *report.Builder
	// created reports that the SQLite file did not exist before this run.
	created bool
}

// openApp loads configuration, opens the database and wires the pipeline.
func openApp(ctx context.Context) *app {
	cfg, err := config.Load(cfgFile)
	exitOnError(err, "failed to load configuration")
	if cfg.Debug {
		log = log.Level(zerolog.DebugLevel)
	}

	paths := pathutil.New(pathutil.Config{
		DataDir:   cfg.Paths.DataDir,
		ExportDir: cfg.Paths.ExportDir,
	})

	dsn := cfg.Database.DSN
	if cfg.Database.Driver == db.DriverPostgres {
		if err := cfg.Validate([]string{"database", "dsn"}); err != nil {
			exitOnError(err, "invalid configuration")
		}
	} else if dsn == "" {
		dsn = paths.GetDatabasePath()
	}
	created := cfg.Database.Driver != db.DriverPostgres && !paths.FileExists(dsn)

	log.Debug().Str("driver", cfg.Database.Driver).Str("schema", cfg.Database.Schema).Msg("opening database")
	conn, err := db.Open(ctx, db.Options{
		Driver: cfg.Database.Driver,
		DSN:    dsn,
		Schema: cfg.Database.Schema,
	})
	exitOnError(err, "failed to open database")

	var aliases normalize.Aliases
	if cfg.Ingest.ColumnAliases != "" {
		aliases, err = normalize.LoadAliases(cfg.Ingest.ColumnAliases)
		if err != nil {
			conn.Close()
			exitOnError(err, "failed to load column aliases")
		}
		log.Debug().Str("path", cfg.Ingest.ColumnAliases).Int("aliases", len(aliases)).Msg("column aliases loaded")
	}

	loc := cfg.Location()
	store := db.NewLedgerStore(conn)
	history := db.NewUploadHistory(conn)

	return &app{
		cfg:      cfg,
		paths:    paths,
		conn:     conn,
		store:    store,
		history:  history,
		uploader: ingest.NewUploader(normalize.New(normalize.Config{Aliases: aliases, Location: loc}), ingest.NewResolver(store, cfg.Ingest.KeyLookupFailure), history),
		reports:  report.NewBuilder(store, loc),
		created:  created,
	}
}

func (a *app) Close() {
	if err := a.conn.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}

// exitOnError closes the database before exiting, since os.Exit skips deferred calls.
func (a *app) exitOnError(err error, msg string) {
	if err != nil {
		a.Close()
		exitOnError(err, msg)
	}
}

// Helper function to handle errors and exit.
func exitOnError(err error, msg string) {
	if err != nil {
		log.Error().Err(err).Msg(msg)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
		os.Exit(1)
	}
}
