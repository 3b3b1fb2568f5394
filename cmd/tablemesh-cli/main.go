// Package main provides the entry point for tablemesh-cli.
//
// tablemesh-cli mirrors TableMesh tables locally, either as a one-shot
// dump or as a long-running watcher.
package main

import (
	"fmt"
	"os"

	"github.com/tablemesh/tablemesh-go/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
