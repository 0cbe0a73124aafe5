package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/strata/internal/store"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the relational schema",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(store.DDL)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
