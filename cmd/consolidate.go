package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/previdia/case-pipeline/internal/consolidate"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <case-id>",
	Short: "Rebuild the consolidated case record from stored extractions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caseID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := consolidate.New(st).Run(ctx, caseID)
		if err != nil {
			return err
		}

		name := "(unknown)"
		if rec.ClaimantName != nil {
			name = *rec.ClaimantName
		}
		fmt.Printf("case %s consolidated: claimant %s, %d rural periods, %d anomalies\n",
			caseID, name, len(rec.RuralPeriods), len(rec.Anomalies))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
}
