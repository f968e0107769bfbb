// Package main provides the tablesync CLI.
package main

import (
	"os"

	"github.com/nwdata/tablesync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
