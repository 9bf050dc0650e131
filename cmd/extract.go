package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <case-id>",
	Short: "Run batch field extraction for a case",
	Long:  "Extracts structured fields from the case's classified documents in batches. Already-ingested documents only; use process to ingest and run everything.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caseID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Extractor.Run(ctx, caseID)
		if err != nil {
			return err
		}

		fmt.Printf("case %s: %d/%d batches extracted, %d documents skipped\n",
			caseID, result.TotalBatches-result.FailedBatches, result.TotalBatches, len(result.Skipped))
		for _, s := range result.Skipped {
			fmt.Printf("  skipped %s: %s\n", s.DocumentID, s.Reason)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
