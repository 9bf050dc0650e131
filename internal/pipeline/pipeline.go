package pipeline

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/blob"
	"github.com/previdia/case-pipeline/internal/classifier"
	"github.com/previdia/case-pipeline/internal/consolidate"
	"github.com/previdia/case-pipeline/internal/extract"
	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/store"
	"github.com/previdia/case-pipeline/internal/validation"
)

// Pipeline orchestrates a full case run: classify the uploaded documents,
// extract in batches, consolidate into the case record, validate sufficiency
// and mark downstream artifacts stale. Phases run in order; a partial
// extraction still flows into consolidation so one bad batch never blocks
// the case.
type Pipeline struct {
	store        store.Store
	blobs        blob.Store
	extractor    *extract.Extractor
	consolidator *consolidate.Consolidator
	validator    *validation.Validator
}

// New creates a Pipeline.
func New(st store.Store, blobs blob.Store, ex *extract.Extractor, co *consolidate.Consolidator, va *validation.Validator) *Pipeline {
	return &Pipeline{store: st, blobs: blobs, extractor: ex, consolidator: co, validator: va}
}

// RunResult aggregates the per-phase outcomes of one case run.
type RunResult struct {
	CaseID     string                  `json:"case_id"`
	Classified int                     `json:"classified"`
	Extraction *extract.Result         `json:"extraction,omitempty"`
	Record     *model.CaseRecord       `json:"record,omitempty"`
	Report     *model.ValidationReport `json:"report,omitempty"`
}

// Complete reports whether every phase ran without dropped units.
func (r *RunResult) Complete() bool {
	return r.Extraction != nil && r.Extraction.Complete()
}

// Run processes the case end to end.
func (p *Pipeline) Run(ctx context.Context, caseID string, profile model.LegalProfile) (*RunResult, error) {
	log := zap.L().With(zap.String("case_id", caseID))
	log.Info("pipeline: starting case run", zap.String("profile", string(profile)))

	result := &RunResult{CaseID: caseID}

	trackPhase := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		fields := []zap.Field{
			zap.String("phase", name),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Error("pipeline: phase failed", append(fields, zap.Error(err))...)
			return err
		}
		log.Info("pipeline: phase complete", fields...)
		return nil
	}

	if err := trackPhase("classify", func() error {
		n, err := p.classify(ctx, caseID)
		result.Classified = n
		return err
	}); err != nil {
		return result, err
	}

	if err := trackPhase("extract", func() error {
		res, err := p.extractor.Run(ctx, caseID)
		result.Extraction = res
		if err != nil {
			return err
		}
		if res.Extracted == 0 {
			return eris.New("pipeline: no batch extracted")
		}
		return nil
	}); err != nil {
		return result, err
	}

	if err := trackPhase("consolidate", func() error {
		rec, err := p.consolidator.Run(ctx, caseID)
		result.Record = rec
		return err
	}); err != nil {
		return result, err
	}

	if err := trackPhase("validate", func() error {
		rep, err := p.validator.Run(ctx, caseID, profile)
		result.Report = rep
		return err
	}); err != nil {
		return result, err
	}

	// The record changed, so any previously generated artifact is now
	// built on stale data.
	if err := trackPhase("mark_stale", func() error {
		return p.store.MarkArtifactsStale(ctx, caseID)
	}); err != nil {
		return result, err
	}

	log.Info("pipeline: case run finished",
		zap.Bool("complete", result.Complete()),
		zap.Float64("score", result.Report.Score),
		zap.Bool("sufficient", result.Report.IsSufficient))
	return result, nil
}

// classify assigns a type to every document still tagged as other. Manual
// overrides (anything already typed) are left alone.
func (p *Pipeline) classify(ctx context.Context, caseID string) (int, error) {
	docs, err := p.store.ListDocuments(ctx, caseID)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list documents")
	}

	classified := 0
	for _, doc := range docs {
		if doc.Type != "" && doc.Type != model.DocTypeOther {
			continue
		}
		t := classifier.Classify(doc.FileName)
		if t == doc.Type {
			continue
		}
		if err := p.store.UpdateDocumentType(ctx, doc.ID, t); err != nil {
			return classified, eris.Wrapf(err, "pipeline: classify document %s", doc.ID)
		}
		if t != model.DocTypeOther {
			classified++
		}
	}
	return classified, nil
}

// Ingest uploads local files as case documents. Each file lands in the blob
// store under its content hash and gets a classified document row.
func (p *Pipeline) Ingest(ctx context.Context, caseID string, paths []string) ([]model.Document, error) {
	var docs []model.Document
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return docs, eris.Wrapf(err, "pipeline: read %s", path)
		}

		ext := strings.ToLower(filepath.Ext(path))
		blobPath, err := p.blobs.Upload(ctx, data, ext)
		if err != nil {
			return docs, eris.Wrapf(err, "pipeline: upload %s", path)
		}

		fileName := filepath.Base(path)
		doc := model.Document{
			ID:         uuid.New().String(),
			CaseID:     caseID,
			Path:       blobPath,
			MimeType:   mimeTypeFor(ext),
			FileName:   fileName,
			Type:       classifier.Classify(fileName),
			SizeBytes:  int64(len(data)),
			UploadedAt: time.Now().UTC(),
		}
		if err := p.store.CreateDocument(ctx, &doc); err != nil {
			return docs, eris.Wrapf(err, "pipeline: create document %s", fileName)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func mimeTypeFor(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			return t[:idx]
		}
		return t
	}
	return "application/octet-stream"
}
