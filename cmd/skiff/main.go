// Package main is the entry point for the skiff object storage server.
package main

import (
	"os"

	"github.com/seaward/skiff/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
