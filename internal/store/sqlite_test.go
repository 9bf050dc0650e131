package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previdia/case-pipeline/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func strptr(s string) *string { return &s }

// --- Documents ---

func TestSQLite_Document_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := &model.Document{
		ID:         "doc-1",
		CaseID:     "case-1",
		Path:       "ab/abc123.pdf",
		MimeType:   "application/pdf",
		FileName:   "procuracao.pdf",
		Type:       model.DocTypeOther,
		SizeBytes:  2048,
		UploadedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.CreateDocument(ctx, doc))

	got, err := st.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "case-1", got.CaseID)
	assert.Equal(t, model.DocTypeOther, got.Type)
	assert.Equal(t, int64(2048), got.SizeBytes)
}

func TestSQLite_Document_UpdateType(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := &model.Document{ID: "doc-1", CaseID: "case-1", Path: "p", UploadedAt: time.Now().UTC()}
	require.NoError(t, st.CreateDocument(ctx, doc))

	require.NoError(t, st.UpdateDocumentType(ctx, "doc-1", model.DocTypePowerOfAttorney))

	got, err := st.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocTypePowerOfAttorney, got.Type)
}

func TestSQLite_Document_UpdateTypeMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateDocumentType(context.Background(), "missing", model.DocTypeCNISStatement)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Document_ListByCase(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"doc-b", "doc-a"} {
		doc := &model.Document{
			ID: id, CaseID: "case-1", Path: id,
			UploadedAt: base.Add(time.Duration(1-i) * time.Minute),
		}
		require.NoError(t, st.CreateDocument(ctx, doc))
	}
	require.NoError(t, st.CreateDocument(ctx, &model.Document{ID: "doc-x", CaseID: "case-2", Path: "x", UploadedAt: base}))

	docs, err := st.ListDocuments(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	// Ordered by upload time, not insert order.
	assert.Equal(t, "doc-a", docs[0].ID)
	assert.Equal(t, "doc-b", docs[1].ID)
}

// --- Extractions ---

func TestSQLite_Extraction_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ext := &model.Extraction{
		ID:          "ext-1",
		CaseID:      "case-1",
		DocumentIDs: []string{"doc-1", "doc-2"},
		Fields: model.FieldMap{
			ClaimantName: strptr("Maria da Silva"),
			RuralPeriods: []model.RuralPeriod{{StartDate: "2015-01-01", EndDate: "2020-12-31", Location: "Sítio Boa Vista"}},
		},
		MissingFields: []string{"cpf"},
		Observations:  "documento parcialmente legível",
		ExtractedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.InsertExtraction(ctx, ext))

	exts, err := st.ListExtractions(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, exts, 1)
	require.NotNil(t, exts[0].Fields.ClaimantName)
	assert.Equal(t, "Maria da Silva", *exts[0].Fields.ClaimantName)
	assert.Equal(t, []string{"doc-1", "doc-2"}, exts[0].DocumentIDs)
	assert.Equal(t, []string{"cpf"}, exts[0].MissingFields)
	require.Len(t, exts[0].Fields.RuralPeriods, 1)
	assert.Equal(t, "Sítio Boa Vista", exts[0].Fields.RuralPeriods[0].Location)
}

func TestSQLite_Extraction_ListOrderedByExtractedAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.InsertExtraction(ctx, &model.Extraction{ID: "ext-late", CaseID: "c", ExtractedAt: base.Add(time.Hour)}))
	require.NoError(t, st.InsertExtraction(ctx, &model.Extraction{ID: "ext-early", CaseID: "c", ExtractedAt: base}))

	exts, err := st.ListExtractions(ctx, "c")
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, "ext-early", exts[0].ID)
	assert.Equal(t, "ext-late", exts[1].ID)
}

func TestSQLite_CountExtractionsCovering(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, st.InsertExtraction(ctx, &model.Extraction{ID: "e1", CaseID: "c", DocumentIDs: []string{"d1", "d2"}, ExtractedAt: now}))
	require.NoError(t, st.InsertExtraction(ctx, &model.Extraction{ID: "e2", CaseID: "c", DocumentIDs: []string{"d3"}, ExtractedAt: now}))

	n, err := st.CountExtractionsCovering(ctx, "c", []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.CountExtractionsCovering(ctx, "c", []string{"d1", "d3"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// --- Case record ---

func TestSQLite_CaseRecord_ReplaceAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := model.NewCaseRecord("case-1")
	rec.ClaimantName = strptr("Maria da Silva")
	rec.HasPriorRequest = true
	rec.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.ReplaceCaseRecord(ctx, rec))

	got, err := st.GetCaseRecord(ctx, "case-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.ClaimantName)
	assert.Equal(t, "Maria da Silva", *got.ClaimantName)
	assert.True(t, got.HasPriorRequest)

	// Second replace overwrites the whole row.
	rec.ClaimantName = strptr("Maria S. Oliveira")
	require.NoError(t, st.ReplaceCaseRecord(ctx, rec))
	got, err = st.GetCaseRecord(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "Maria S. Oliveira", *got.ClaimantName)
}

func TestSQLite_CaseRecord_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetCaseRecord(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Validation report ---

func TestSQLite_ValidationReport_ReplaceAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := &model.ValidationReport{
		CaseID:       "case-1",
		Profile:      model.ProfileRuralMaternity,
		Score:        82.5,
		IsSufficient: true,
		Checklist: []model.ChecklistItem{
			{Item: model.DocTypePowerOfAttorney, Status: model.ChecklistPresent, Importance: model.ImportanceEssential},
		},
		EvaluatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.ReplaceValidationReport(ctx, rep))

	got, err := st.GetValidationReport(ctx, "case-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 82.5, got.Score, 0.001)
	assert.True(t, got.IsSufficient)
	require.Len(t, got.Checklist, 1)
	assert.Equal(t, model.ChecklistPresent, got.Checklist[0].Status)
}

// --- Artifacts ---

func TestSQLite_Artifact_OptimisticUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := &model.Artifact{ID: "art-1", CaseID: "case-1", Content: "v1 text", Version: 1, UpdatedAt: time.Now().UTC()}
	require.NoError(t, st.SaveArtifact(ctx, a))

	ok, err := st.UpdateArtifactContent(ctx, "art-1", "v2 text", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetArtifact(ctx, "art-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2 text", got.Content)
	assert.Equal(t, 2, got.Version)

	// Stale expected version loses.
	ok, err = st.UpdateArtifactContent(ctx, "art-1", "v2 again", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_Artifact_MarkStale(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveArtifact(ctx, &model.Artifact{ID: "art-1", CaseID: "case-1", Version: 1, UpdatedAt: time.Now().UTC()}))
	require.NoError(t, st.SaveArtifact(ctx, &model.Artifact{ID: "art-2", CaseID: "case-2", Version: 1, UpdatedAt: time.Now().UTC()}))

	require.NoError(t, st.MarkArtifactsStale(ctx, "case-1"))

	got, err := st.GetArtifact(ctx, "art-1")
	require.NoError(t, err)
	assert.True(t, got.Stale)

	other, err := st.GetArtifact(ctx, "art-2")
	require.NoError(t, err)
	assert.False(t, other.Stale)
}

func TestSQLite_Artifact_GetCaseArtifactMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetCaseArtifact(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Quality reports and corrections ---

func TestSQLite_QualityReport_ReplaceAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := &model.QualityReport{
		ArtifactID:     "art-1",
		CaseID:         "case-1",
		AddressingOK:   true,
		JurisdictionOK: true,
		GrammarOK:      false,
		Issues: []model.QualityIssue{
			{Check: "grammar", Severity: model.SeverityLow, Detail: "concordância verbal no parágrafo 3"},
		},
		Status:      model.QualityAutoCorrected,
		EvaluatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.ReplaceQualityReport(ctx, rep))

	got, err := st.GetQualityReport(ctx, "art-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.QualityAutoCorrected, got.Status)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "grammar", got.Issues[0].Check)
}

func TestSQLite_Corrections_AppendAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	first := &model.CorrectionEntry{
		ID: "cor-1", ArtifactID: "art-1", Check: "addressing",
		BeforeExcerpt: "Vara Federal de", AfterExcerpt: "Juizado Especial Federal de",
		Confidence: 0.93, AutoApplied: true, AppliedAt: base,
	}
	second := &model.CorrectionEntry{
		ID: "cor-2", ArtifactID: "art-1", Check: "grammar",
		Confidence: 0.88, AutoApplied: true, AppliedAt: base.Add(time.Minute),
	}
	require.NoError(t, st.AppendCorrection(ctx, first))
	require.NoError(t, st.AppendCorrection(ctx, second))

	entries, err := st.ListCorrections(ctx, "art-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "cor-1", entries[0].ID)
	assert.Equal(t, "cor-2", entries[1].ID)
	assert.Equal(t, "Juizado Especial Federal de", entries[0].AfterExcerpt)
}
