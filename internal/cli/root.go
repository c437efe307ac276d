// Package cli provides the skiff command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skiff",
		Short: "skiff - self-hosted S3-compatible object storage",
		Long:  "skiff is a self-hosted S3-compatible object storage server with an admin API.",
	}

	rootCmd.AddCommand(NewServerCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
