// Package main is the entry point for the recon CLI.
package main

import (
	"os"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/cmd/recon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
