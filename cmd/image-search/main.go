// Package main provides the entry point for the image-search CLI.
package main

import (
	"os"

	"github.com/menta2k/image-search/cmd/image-search/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
