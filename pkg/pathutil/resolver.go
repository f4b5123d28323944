// Package pathutil provides centralized path management for the ledger database and exports.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PathResolver manages paths for the SQLite database and exported tables.
type PathResolver struct {
	dataDir      string
	databasePath string
	exportDir    string
}

// Config represents the configuration for PathResolver.
type Config struct {
	// DataDir is the root directory for local state (e.g., ./data)
	DataDir string
	// DatabasePath is the SQLite database file
	DatabasePath string
	// ExportDir is where delimited-text exports are written
	ExportDir string
}

// New creates a new PathResolver with the given configuration.
// If DatabasePath is empty, it defaults to {DataDir}/recon.db
// If ExportDir is empty, it defaults to {DataDir}/exports
func New(config Config) *PathResolver {
	dbPath := config.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(config.DataDir, "recon.db")
	}

	exportDir := config.ExportDir
	if exportDir == "" {
		exportDir = filepath.Join(config.DataDir, "exports")
	}

	return &PathResolver{
		dataDir:      config.DataDir,
		databasePath: dbPath,
		exportDir:    exportDir,
	}
}

// GetDataDir returns the data directory.
func (p *PathResolver) GetDataDir() string {
	return p.dataDir
}

// GetDatabasePath returns the database file path.
func (p *PathResolver) GetDatabasePath() string {
	return p.databasePath
}

// GetExportDir returns the export directory.
func (p *PathResolver) GetExportDir() string {
	return p.exportDir
}

// ExportFileName returns the download name of an exported table.
// Example: reconciliation_selected_20250131.csv
func ExportFileName(table string, on time.Time) string {
	name := strings.ReplaceAll(strings.TrimSpace(table), "-", "_")
	if name == "" || name == "rows" {
		name = "selected"
	}
	return fmt.Sprintf("reconciliation_%s_%s.csv", name, on.Format("20060102"))
}

// GetExportPath returns the file path for an export, grouped by year.
// Example: ./data/exports/2025/reconciliation_selected_20250131.csv
func (p *PathResolver) GetExportPath(table string, on time.Time) string {
	return filepath.Join(p.exportDir, on.Format("2006"), ExportFileName(table, on))
}

// EnsureDir creates a directory if it doesn't exist.
// It creates all parent directories as needed (like mkdir -p).
func (p *PathResolver) EnsureDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	return nil
}

// EnsureParentDir ensures the parent directory of a file exists.
func (p *PathResolver) EnsureParentDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return p.EnsureDir(dir)
}

// FileExists checks if a file exists.
func (p *PathResolver) FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}
