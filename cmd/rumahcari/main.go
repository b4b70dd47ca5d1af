// Package main provides the entry point for the rumahcari CLI.
package main

import (
	"os"

	"github.com/hunianlab/rumahcari/cmd/rumahcari/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
