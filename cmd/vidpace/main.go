// Package main is the entry point for the vidpace application.
package main

import (
	"os"

	"github.com/jmylchreest/vidpace/cmd/vidpace/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
