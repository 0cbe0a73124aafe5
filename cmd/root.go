package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Materialize document trees into a relational store",
	Long: `strata ingests document-shaped source trees (JSON or XML) and
materializes them as normalized rows, deduplicated by natural key so
repeated runs never create duplicate rows.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
