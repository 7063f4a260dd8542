// Package main is the entry point for the ember CLI.
package main

import (
	"fmt"
	"os"

	"github.com/emberwatch/ember/internal/cli"
)

// Version information (set by goreleaser)
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
