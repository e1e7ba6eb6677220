// Package main provides the entry point for the FinSight HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "FinSight analysis record API server",
	Long:  "FinSight turns uploaded financial filings into structured investment analyses and serves them from a tenant-isolated object store via REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
