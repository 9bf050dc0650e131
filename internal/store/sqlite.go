package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/previdia/case-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// single-binary deployments; Postgres is the shared-environment driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	path        TEXT NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT '',
	file_name   TEXT NOT NULL DEFAULT '',
	doc_type    TEXT NOT NULL DEFAULT 'other',
	parent_id   TEXT NOT NULL DEFAULT '',
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	uploaded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extractions (
	id             TEXT PRIMARY KEY,
	case_id        TEXT NOT NULL,
	document_ids   TEXT NOT NULL DEFAULT '[]',
	fields         TEXT NOT NULL DEFAULT '{}',
	missing_fields TEXT NOT NULL DEFAULT '[]',
	observations   TEXT NOT NULL DEFAULT '',
	extracted_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS case_records (
	case_id    TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS validation_reports (
	case_id      TEXT PRIMARY KEY,
	report       TEXT NOT NULL,
	evaluated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 1,
	stale      INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS quality_reports (
	artifact_id  TEXT PRIMARY KEY,
	case_id      TEXT NOT NULL,
	report       TEXT NOT NULL,
	evaluated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS corrections (
	id          TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	entry       TEXT NOT NULL,
	applied_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_case_id ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_extractions_case_id ON extractions(case_id);
CREATE INDEX IF NOT EXISTS idx_extractions_extracted_at ON extractions(extracted_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_case_id ON artifacts(case_id);
CREATE INDEX IF NOT EXISTS idx_corrections_artifact_id ON corrections(artifact_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, case_id, path, mime_type, file_name, doc_type, parent_id, size_bytes, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CaseID, doc.Path, doc.MimeType, doc.FileName, string(doc.Type),
		doc.ParentID, doc.SizeBytes, doc.UploadedAt,
	)
	return eris.Wrapf(err, "sqlite: insert document %s", doc.ID)
}

func (s *SQLiteStore) UpdateDocumentType(ctx context.Context, docID string, docType model.DocumentType) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET doc_type = ? WHERE id = ?`,
		string(docType), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document type %s", docID)
	}
	return checkRowsAffected(res, "document", docID)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, path, mime_type, file_name, doc_type, parent_id, size_bytes, uploaded_at
		 FROM documents WHERE id = ?`,
		docID,
	)
	var d model.Document
	var docType string
	err := row.Scan(&d.ID, &d.CaseID, &d.Path, &d.MimeType, &d.FileName, &docType, &d.ParentID, &d.SizeBytes, &d.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("document not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	d.Type = model.DocumentType(docType)
	return &d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, caseID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, path, mime_type, file_name, doc_type, parent_id, size_bytes, uploaded_at
		 FROM documents WHERE case_id = ? ORDER BY uploaded_at ASC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var docType string
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Path, &d.MimeType, &d.FileName, &docType, &d.ParentID, &d.SizeBytes, &d.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		d.Type = model.DocumentType(docType)
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

// --- Extractions ---

func (s *SQLiteStore) InsertExtraction(ctx context.Context, ext *model.Extraction) error {
	docIDs, err := json.Marshal(ext.DocumentIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal document ids")
	}
	fields, err := json.Marshal(ext.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	missing, err := json.Marshal(ext.MissingFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal missing fields")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (id, case_id, document_ids, fields, missing_fields, observations, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ext.ID, ext.CaseID, string(docIDs), string(fields), string(missing), ext.Observations, ext.ExtractedAt,
	)
	return eris.Wrapf(err, "sqlite: insert extraction %s", ext.ID)
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, caseID string) ([]model.Extraction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, document_ids, fields, missing_fields, observations, extracted_at
		 FROM extractions WHERE case_id = ? ORDER BY extracted_at ASC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close()

	var exts []model.Extraction
	for rows.Next() {
		var e model.Extraction
		var docIDs, fields, missing string
		if err := rows.Scan(&e.ID, &e.CaseID, &docIDs, &fields, &missing, &e.Observations, &e.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		if err := json.Unmarshal([]byte(docIDs), &e.DocumentIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal document ids")
		}
		if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal fields")
		}
		if err := json.Unmarshal([]byte(missing), &e.MissingFields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal missing fields")
		}
		exts = append(exts, e)
	}
	return exts, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

func (s *SQLiteStore) CountExtractionsCovering(ctx context.Context, caseID string, docIDs []string) (int, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	// SQLite has no JSON containment operator; filter in Go over the
	// case's extractions instead. Case extraction counts are small.
	exts, err := s.ListExtractions(ctx, caseID)
	if err != nil {
		return 0, err
	}
	want := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		want[id] = struct{}{}
	}
	count := 0
	for _, e := range exts {
		covered := make(map[string]struct{}, len(e.DocumentIDs))
		for _, id := range e.DocumentIDs {
			covered[id] = struct{}{}
		}
		all := true
		for id := range want {
			if _, ok := covered[id]; !ok {
				all = false
				break
			}
		}
		if all {
			count++
		}
	}
	return count, nil
}

// --- Case record ---

func (s *SQLiteStore) ReplaceCaseRecord(ctx context.Context, rec *model.CaseRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal case record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_records (case_id, record, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (case_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		rec.CaseID, string(payload), rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: replace case record %s", rec.CaseID)
}

func (s *SQLiteStore) GetCaseRecord(ctx context.Context, caseID string) (*model.CaseRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM case_records WHERE case_id = ?`,
		caseID,
	)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get case record %s", caseID)
	}
	var rec model.CaseRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal case record")
	}
	return &rec, nil
}

// --- Validation report ---

func (s *SQLiteStore) ReplaceValidationReport(ctx context.Context, rep *model.ValidationReport) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_reports (case_id, report, evaluated_at) VALUES (?, ?, ?)
		 ON CONFLICT (case_id) DO UPDATE SET report = excluded.report, evaluated_at = excluded.evaluated_at`,
		rep.CaseID, string(payload), rep.EvaluatedAt,
	)
	return eris.Wrapf(err, "sqlite: replace validation report %s", rep.CaseID)
}

func (s *SQLiteStore) GetValidationReport(ctx context.Context, caseID string) (*model.ValidationReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT report FROM validation_reports WHERE case_id = ?`,
		caseID,
	)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get validation report %s", caseID)
	}
	var rep model.ValidationReport
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal validation report")
	}
	return &rep, nil
}

// --- Artifacts, quality reports, corrections ---

func (s *SQLiteStore) SaveArtifact(ctx context.Context, artifact *model.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, case_id, content, version, stale, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET content = excluded.content,
			version = excluded.version, stale = excluded.stale, updated_at = excluded.updated_at`,
		artifact.ID, artifact.CaseID, artifact.Content, artifact.Version, boolToInt(artifact.Stale), artifact.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save artifact %s", artifact.ID)
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, content, version, stale, updated_at FROM artifacts WHERE id = ?`,
		artifactID,
	)
	return scanSQLiteArtifact(row)
}

func (s *SQLiteStore) GetCaseArtifact(ctx context.Context, caseID string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, content, version, stale, updated_at FROM artifacts
		 WHERE case_id = ? ORDER BY updated_at DESC LIMIT 1`,
		caseID,
	)
	return scanSQLiteArtifact(row)
}

func (s *SQLiteStore) UpdateArtifactContent(ctx context.Context, artifactID, content string, expectedVersion int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET content = ?, version = version + 1, stale = 0, updated_at = ?
		 WHERE id = ? AND version = ?`,
		content, time.Now().UTC(), artifactID, expectedVersion,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update artifact %s", artifactID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkArtifactsStale(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET stale = 1, updated_at = ? WHERE case_id = ?`,
		time.Now().UTC(), caseID,
	)
	return eris.Wrapf(err, "sqlite: mark artifacts stale %s", caseID)
}

func (s *SQLiteStore) ReplaceQualityReport(ctx context.Context, rep *model.QualityReport) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quality report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quality_reports (artifact_id, case_id, report, evaluated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (artifact_id) DO UPDATE SET report = excluded.report, evaluated_at = excluded.evaluated_at`,
		rep.ArtifactID, rep.CaseID, string(payload), rep.EvaluatedAt,
	)
	return eris.Wrapf(err, "sqlite: replace quality report %s", rep.ArtifactID)
}

func (s *SQLiteStore) GetQualityReport(ctx context.Context, artifactID string) (*model.QualityReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT report FROM quality_reports WHERE artifact_id = ?`,
		artifactID,
	)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get quality report %s", artifactID)
	}
	var rep model.QualityReport
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal quality report")
	}
	return &rep, nil
}

func (s *SQLiteStore) AppendCorrection(ctx context.Context, entry *model.CorrectionEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal correction")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO corrections (id, artifact_id, entry, applied_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.ArtifactID, string(payload), entry.AppliedAt,
	)
	return eris.Wrapf(err, "sqlite: append correction %s", entry.ID)
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, artifactID string) ([]model.CorrectionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM corrections WHERE artifact_id = ? ORDER BY applied_at ASC`,
		artifactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close()

	var entries []model.CorrectionEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		var e model.CorrectionEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal correction")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list corrections iterate")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteArtifact(row scannable) (*model.Artifact, error) {
	var a model.Artifact
	var stale int
	err := row.Scan(&a.ID, &a.CaseID, &a.Content, &a.Version, &stale, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan artifact")
	}
	a.Stale = stale != 0
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
