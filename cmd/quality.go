package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var qualityJSON bool

var qualityCmd = &cobra.Command{
	Use:   "quality <case-id>",
	Short: "Run the quality loop on the case's generated artifact",
	Long:  "Runs the six quality checks against the latest artifact, applies at most one auto-correction pass, and stores the resulting report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caseID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Quality.Run(ctx, caseID)
		if err != nil {
			return err
		}

		if qualityJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("artifact %s: %s (%d issues)\n", report.ArtifactID, report.Status, len(report.Issues))
		for _, issue := range report.Issues {
			fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Check, issue.Detail)
		}
		for _, name := range report.ChecksNotEvaluated {
			fmt.Printf("  not evaluated: %s\n", name)
		}

		return nil
	},
}

func init() {
	qualityCmd.Flags().BoolVar(&qualityJSON, "json", false, "print the full report as JSON")
	rootCmd.AddCommand(qualityCmd)
}
