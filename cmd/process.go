package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/pipeline"
	"github.com/previdia/case-pipeline/internal/task"
)

var (
	processProfile string
	processTimeout int
)

var processCmd = &cobra.Command{
	Use:   "process <case-id> [file...]",
	Short: "Run the full pipeline for a case",
	Long:  "Ingests any given files, then runs classification, batch extraction, consolidation, and validation as a detached task, polling until it finishes or the timeout elapses.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		caseID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) > 1 {
			docs, err := env.Pipeline.Ingest(ctx, caseID, args[1:])
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Printf("ingested %s as %s (%s)\n", d.FileName, d.Type, d.ID)
			}
		}

		profile := model.LegalProfile(processProfile)
		id := env.Tasks.Launch(ctx, "process", caseID, func(taskCtx context.Context) (task.Outcome, error) {
			result, err := env.Pipeline.Run(taskCtx, caseID, profile)
			if err != nil {
				return task.Outcome{}, err
			}
			return task.Outcome{Result: result, Complete: result.Complete()}, nil
		})

		timeout := processTimeout
		if timeout == 0 {
			timeout = cfg.Task.PollTimeoutSecs
		}

		snapshot, done := env.Tasks.Wait(ctx, id, time.Duration(timeout)*time.Second)
		if !done {
			fmt.Printf("task %s still %s after %ds; it keeps running until the process exits\n",
				id, snapshot.Status, timeout)
			return nil
		}

		if snapshot.Status == task.StatusFailed {
			return fmt.Errorf("process %s: %s", caseID, snapshot.Error)
		}

		result, ok := snapshot.Result.(*pipeline.RunResult)
		if !ok || result == nil {
			return fmt.Errorf("process %s: finished %s without a result", caseID, snapshot.Status)
		}

		zap.L().Info("pipeline complete",
			zap.String("case_id", caseID),
			zap.String("status", string(snapshot.Status)),
		)

		fmt.Printf("case %s [%s]: %d/%d batches extracted, sufficiency score %.0f, sufficient=%v\n",
			caseID,
			snapshot.Status,
			result.Extraction.TotalBatches-result.Extraction.FailedBatches,
			result.Extraction.TotalBatches,
			result.Report.Score,
			result.Report.IsSufficient,
		)
		for _, miss := range result.Report.MissingDocuments {
			fmt.Printf("  missing: %s (%s)\n", miss.Type, miss.Impact)
		}

		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processProfile, "profile", string(model.ProfileRuralMaternity), "legal profile (rural_maternity or rural_retirement)")
	processCmd.Flags().IntVar(&processTimeout, "timeout", 0, "seconds to wait for completion (default from config)")
	rootCmd.AddCommand(processCmd)
}
