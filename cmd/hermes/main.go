// Package main provides the entry point for the hermes CLI.
package main

import (
	"os"

	"github.com/MayankTamakuwala/HERMES/cmd/hermes/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
