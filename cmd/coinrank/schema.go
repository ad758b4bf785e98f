package main

import (
	"encoding/json"
	"fmt"

	"github.com/noperator/coinrank/pkg/coinrank"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of a search result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := json.MarshalIndent(coinrank.ResultSchema(), "", "  ")
		if err != nil {
			return fmt.Errorf("could not marshal schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
