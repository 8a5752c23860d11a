// Package main is the entry point for the sentinel CLI.
package main

import (
	"os"

	"github.com/sentinelhq/sentinel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
