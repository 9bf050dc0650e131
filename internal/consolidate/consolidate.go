package consolidate

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/merge"
	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/resilience"
	"github.com/previdia/case-pipeline/internal/store"
)

// Consolidator folds a case's extractions into the canonical case record.
// The fold is deterministic: extractions are read in extraction-time order
// and the record is rebuilt from scratch on every run, so re-running after
// new extractions (or after none) always yields the same record for the
// same extraction set.
type Consolidator struct {
	store store.Store
}

// New creates a Consolidator.
func New(st store.Store) *Consolidator {
	return &Consolidator{store: st}
}

// Run rebuilds the case record from all stored extractions and replaces the
// persisted record whole. Returns the new record.
func (c *Consolidator) Run(ctx context.Context, caseID string) (*model.CaseRecord, error) {
	log := zap.L().With(zap.String("case_id", caseID))

	exts, err := c.store.ListExtractions(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: list extractions")
	}
	if len(exts) == 0 {
		return nil, &resilience.MissingPrerequisiteError{Operation: "consolidate", Missing: "extractions"}
	}

	// Fold order must not depend on driver behavior. Ties break by ID.
	sort.SliceStable(exts, func(i, j int) bool {
		if exts[i].ExtractedAt.Equal(exts[j].ExtractedAt) {
			return exts[i].ID < exts[j].ID
		}
		return exts[i].ExtractedAt.Before(exts[j].ExtractedAt)
	})

	rec := model.NewCaseRecord(caseID)
	for i := range exts {
		merge.Apply(rec, &exts[i].Fields)
	}
	// The record timestamp derives from the newest folded extraction, not
	// the wall clock, so re-running over the same set serializes
	// identically.
	rec.UpdatedAt = exts[len(exts)-1].ExtractedAt.UTC()

	if err := c.store.ReplaceCaseRecord(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "consolidate: replace case record")
	}

	log.Info("case record consolidated",
		zap.Int("extractions", len(exts)),
		zap.Int("rural_periods", len(rec.RuralPeriods)),
		zap.Int("anomalies", len(rec.Anomalies)))
	return rec, nil
}
