package pathutil

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	p := New(Config{DataDir: "/srv/recon"})

	if got := p.GetDatabasePath(); got != filepath.Join("/srv/recon", "recon.db") {
		t.Errorf("GetDatabasePath() = %q", got)
	}
	if got := p.GetExportDir(); got != filepath.Join("/srv/recon", "exports") {
		t.Errorf("GetExportDir() = %q", got)
	}

	p = New(Config{DataDir: "/srv/recon", DatabasePath: "/tmp/x.db", ExportDir: "/tmp/out"})
	if p.GetDatabasePath() != "/tmp/x.db" || p.GetExportDir() != "/tmp/out" {
		t.Errorf("explicit paths not honoured: %q %q", p.GetDatabasePath(), p.GetExportDir())
	}
}

func TestExportFileName(t *testing.T) {
	on := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		table    string
		expected string
	}{
		{"rows", "reconciliation_selected_20250131.csv"},
		{"", "reconciliation_selected_20250131.csv"},
		{"daily-balances", "reconciliation_daily_balances_20250131.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			if got := ExportFileName(tt.table, on); got != tt.expected {
				t.Errorf("ExportFileName(%q) = %q, expected %q", tt.table, got, tt.expected)
			}
		})
	}
}

func TestGetExportPathAndEnsure(t *testing.T) {
	root := t.TempDir()
	p := New(Config{DataDir: root})
	on := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	path := p.GetExportPath("rows", on)
	expected := filepath.Join(root, "exports", "2025", "reconciliation_selected_20250301.csv")
	if path != expected {
		t.Fatalf("GetExportPath() = %q, expected %q", path, expected)
	}

	if err := p.EnsureParentDir(path); err != nil {
		t.Fatalf("EnsureParentDir() error = %v", err)
	}
	if !p.FileExists(filepath.Dir(path)) {
		t.Error("expected export year directory to exist")
	}
}
