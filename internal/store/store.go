package store

import (
	"context"

	"github.com/previdia/case-pipeline/internal/model"
)

// Store is the case-store boundary. Extractions are append-only; the case
// record, validation report and quality report are replaced whole; the
// correction history only ever grows.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) error
	UpdateDocumentType(ctx context.Context, docID string, docType model.DocumentType) error
	GetDocument(ctx context.Context, docID string) (*model.Document, error)
	ListDocuments(ctx context.Context, caseID string) ([]model.Document, error)

	// Extractions (append-only source of truth)
	InsertExtraction(ctx context.Context, ext *model.Extraction) error
	ListExtractions(ctx context.Context, caseID string) ([]model.Extraction, error)
	CountExtractionsCovering(ctx context.Context, caseID string, docIDs []string) (int, error)

	// Canonical case record (whole-row replacement)
	ReplaceCaseRecord(ctx context.Context, rec *model.CaseRecord) error
	GetCaseRecord(ctx context.Context, caseID string) (*model.CaseRecord, error)

	// Validation report (whole-row replacement)
	ReplaceValidationReport(ctx context.Context, rep *model.ValidationReport) error
	GetValidationReport(ctx context.Context, caseID string) (*model.ValidationReport, error)

	// Generated artifacts and quality loop output
	SaveArtifact(ctx context.Context, artifact *model.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error)
	GetCaseArtifact(ctx context.Context, caseID string) (*model.Artifact, error)
	// UpdateArtifactContent bumps the version only when expectedVersion
	// still matches; returns false on conflict so the caller can restart
	// against the newer version.
	UpdateArtifactContent(ctx context.Context, artifactID, content string, expectedVersion int) (bool, error)
	MarkArtifactsStale(ctx context.Context, caseID string) error
	ReplaceQualityReport(ctx context.Context, rep *model.QualityReport) error
	GetQualityReport(ctx context.Context, artifactID string) (*model.QualityReport, error)
	AppendCorrection(ctx context.Context, entry *model.CorrectionEntry) error
	ListCorrections(ctx context.Context, artifactID string) ([]model.CorrectionEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
