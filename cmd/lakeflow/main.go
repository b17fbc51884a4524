// Package main is the entry point for the lakeflow binary.
package main

import (
	"os"

	"lakeflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
