package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/previdia/case-pipeline/internal/model"
)

var (
	validateProfile string
	validateJSON    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <case-id>",
	Short: "Validate document sufficiency for a case",
	Long:  "Evaluates the required-document checklist for the legal profile and asks the scoring model for a sufficiency verdict.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caseID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Validator.Run(ctx, caseID, model.LegalProfile(validateProfile))
		if err != nil {
			return err
		}

		if validateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("case %s (%s): score %.0f, sufficient=%v\n",
			caseID, report.Profile, report.Score, report.IsSufficient)
		for _, item := range report.Checklist {
			fmt.Printf("  [%s] %-12s %s\n", item.Status, item.Importance, item.Label)
		}
		if report.Recommendations != "" {
			fmt.Printf("recommendations: %s\n", report.Recommendations)
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateProfile, "profile", string(model.ProfileRuralMaternity), "legal profile (rural_maternity or rural_retirement)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the full report as JSON")
	rootCmd.AddCommand(validateCmd)
}
