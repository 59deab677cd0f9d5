// Package main is the entry point for flowctl.
// flowctl is the operator's terminal tool for the flowplane API.
package main

import (
	"os"

	"flowplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
