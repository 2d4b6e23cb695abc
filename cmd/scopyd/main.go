// Package main provides the entry point for the scopyd CLI.
package main

import (
	"os"

	"github.com/Suehn/Scopy-sub006/cmd/scopyd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
