// Package main provides the entry point for the ftsd coordinator.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/cmd/ftsd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
