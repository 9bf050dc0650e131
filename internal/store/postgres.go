package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/previdia/case-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	path        TEXT NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT '',
	file_name   TEXT NOT NULL DEFAULT '',
	doc_type    TEXT NOT NULL DEFAULT 'other',
	parent_id   TEXT,
	size_bytes  BIGINT NOT NULL DEFAULT 0,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extractions (
	id             TEXT PRIMARY KEY,
	case_id        TEXT NOT NULL,
	document_ids   JSONB NOT NULL DEFAULT '[]',
	fields         JSONB NOT NULL DEFAULT '{}',
	missing_fields JSONB NOT NULL DEFAULT '[]',
	observations   TEXT NOT NULL DEFAULT '',
	extracted_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_records (
	case_id    TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validation_reports (
	case_id      TEXT PRIMARY KEY,
	report       JSONB NOT NULL,
	evaluated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 1,
	stale      BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quality_reports (
	artifact_id  TEXT PRIMARY KEY,
	case_id      TEXT NOT NULL,
	report       JSONB NOT NULL,
	evaluated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS corrections (
	id          TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	entry       JSONB NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_case_id ON documents(case_id);
CREATE INDEX IF NOT EXISTS idx_extractions_case_id ON extractions(case_id);
CREATE INDEX IF NOT EXISTS idx_extractions_extracted_at ON extractions(extracted_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_case_id ON artifacts(case_id);
CREATE INDEX IF NOT EXISTS idx_corrections_artifact_id ON corrections(artifact_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, case_id, path, mime_type, file_name, doc_type, parent_id, size_bytes, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		doc.ID, doc.CaseID, doc.Path, doc.MimeType, doc.FileName, string(doc.Type),
		doc.ParentID, doc.SizeBytes, doc.UploadedAt,
	)
	return eris.Wrapf(err, "postgres: insert document %s", doc.ID)
}

func (s *PostgresStore) UpdateDocumentType(ctx context.Context, docID string, docType model.DocumentType) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET doc_type = $1 WHERE id = $2`,
		string(docType), docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document type %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: document not found: %s", docID)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, case_id, path, mime_type, file_name, doc_type, COALESCE(parent_id, ''), size_bytes, uploaded_at
		 FROM documents WHERE id = $1`,
		docID,
	)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, caseID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, path, mime_type, file_name, doc_type, COALESCE(parent_id, ''), size_bytes, uploaded_at
		 FROM documents WHERE case_id = $1 ORDER BY uploaded_at ASC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

// --- Extractions ---

func (s *PostgresStore) InsertExtraction(ctx context.Context, ext *model.Extraction) error {
	docIDs, err := json.Marshal(ext.DocumentIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal document ids")
	}
	fields, err := json.Marshal(ext.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	missing, err := json.Marshal(ext.MissingFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal missing fields")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extractions (id, case_id, document_ids, fields, missing_fields, observations, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ext.ID, ext.CaseID, docIDs, fields, missing, ext.Observations, ext.ExtractedAt,
	)
	return eris.Wrapf(err, "postgres: insert extraction %s", ext.ID)
}

func (s *PostgresStore) ListExtractions(ctx context.Context, caseID string) ([]model.Extraction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, document_ids, fields, missing_fields, observations, extracted_at
		 FROM extractions WHERE case_id = $1 ORDER BY extracted_at ASC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extractions")
	}
	defer rows.Close()

	var exts []model.Extraction
	for rows.Next() {
		var e model.Extraction
		var docIDs, fields, missing []byte
		if err := rows.Scan(&e.ID, &e.CaseID, &docIDs, &fields, &missing, &e.Observations, &e.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		if err := json.Unmarshal(docIDs, &e.DocumentIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal document ids")
		}
		if err := json.Unmarshal(fields, &e.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal fields")
		}
		if err := json.Unmarshal(missing, &e.MissingFields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal missing fields")
		}
		exts = append(exts, e)
	}
	return exts, eris.Wrap(rows.Err(), "postgres: list extractions iterate")
}

func (s *PostgresStore) CountExtractionsCovering(ctx context.Context, caseID string, docIDs []string) (int, error) {
	ids, err := json.Marshal(docIDs)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal document ids")
	}
	row := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM extractions WHERE case_id = $1 AND document_ids @> $2::jsonb`,
		caseID, ids,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count extractions")
	}
	return n, nil
}

// --- Case record ---

func (s *PostgresStore) ReplaceCaseRecord(ctx context.Context, rec *model.CaseRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal case record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO case_records (case_id, record, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (case_id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
		rec.CaseID, payload, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: replace case record %s", rec.CaseID)
}

func (s *PostgresStore) GetCaseRecord(ctx context.Context, caseID string) (*model.CaseRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM case_records WHERE case_id = $1`,
		caseID,
	)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get case record %s", caseID)
	}
	var rec model.CaseRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal case record")
	}
	return &rec, nil
}

// --- Validation report ---

func (s *PostgresStore) ReplaceValidationReport(ctx context.Context, rep *model.ValidationReport) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_reports (case_id, report, evaluated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (case_id) DO UPDATE SET report = EXCLUDED.report, evaluated_at = EXCLUDED.evaluated_at`,
		rep.CaseID, payload, rep.EvaluatedAt,
	)
	return eris.Wrapf(err, "postgres: replace validation report %s", rep.CaseID)
}

func (s *PostgresStore) GetValidationReport(ctx context.Context, caseID string) (*model.ValidationReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT report FROM validation_reports WHERE case_id = $1`,
		caseID,
	)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get validation report %s", caseID)
	}
	var rep model.ValidationReport
	if err := json.Unmarshal(payload, &rep); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal validation report")
	}
	return &rep, nil
}

// --- Artifacts, quality reports, corrections ---

func (s *PostgresStore) SaveArtifact(ctx context.Context, artifact *model.Artifact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, case_id, content, version, stale, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content,
			version = EXCLUDED.version, stale = EXCLUDED.stale, updated_at = EXCLUDED.updated_at`,
		artifact.ID, artifact.CaseID, artifact.Content, artifact.Version, artifact.Stale, artifact.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save artifact %s", artifact.ID)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, case_id, content, version, stale, updated_at FROM artifacts WHERE id = $1`,
		artifactID,
	)
	return scanArtifact(row)
}

func (s *PostgresStore) GetCaseArtifact(ctx context.Context, caseID string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, case_id, content, version, stale, updated_at FROM artifacts
		 WHERE case_id = $1 ORDER BY updated_at DESC LIMIT 1`,
		caseID,
	)
	return scanArtifact(row)
}

func (s *PostgresStore) UpdateArtifactContent(ctx context.Context, artifactID, content string, expectedVersion int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET content = $1, version = version + 1, stale = FALSE, updated_at = $2
		 WHERE id = $3 AND version = $4`,
		content, time.Now().UTC(), artifactID, expectedVersion,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update artifact %s", artifactID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkArtifactsStale(ctx context.Context, caseID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET stale = TRUE, updated_at = $1 WHERE case_id = $2`,
		time.Now().UTC(), caseID,
	)
	return eris.Wrapf(err, "postgres: mark artifacts stale %s", caseID)
}

func (s *PostgresStore) ReplaceQualityReport(ctx context.Context, rep *model.QualityReport) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quality report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quality_reports (artifact_id, case_id, report, evaluated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (artifact_id) DO UPDATE SET report = EXCLUDED.report, evaluated_at = EXCLUDED.evaluated_at`,
		rep.ArtifactID, rep.CaseID, payload, rep.EvaluatedAt,
	)
	return eris.Wrapf(err, "postgres: replace quality report %s", rep.ArtifactID)
}

func (s *PostgresStore) GetQualityReport(ctx context.Context, artifactID string) (*model.QualityReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT report FROM quality_reports WHERE artifact_id = $1`,
		artifactID,
	)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get quality report %s", artifactID)
	}
	var rep model.QualityReport
	if err := json.Unmarshal(payload, &rep); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal quality report")
	}
	return &rep, nil
}

func (s *PostgresStore) AppendCorrection(ctx context.Context, entry *model.CorrectionEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal correction")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO corrections (id, artifact_id, entry, applied_at) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.ArtifactID, payload, entry.AppliedAt,
	)
	return eris.Wrapf(err, "postgres: append correction %s", entry.ID)
}

func (s *PostgresStore) ListCorrections(ctx context.Context, artifactID string) ([]model.CorrectionEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry FROM corrections WHERE artifact_id = $1 ORDER BY applied_at ASC`,
		artifactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var entries []model.CorrectionEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		var e model.CorrectionEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal correction")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var docType string
	err := row.Scan(&d.ID, &d.CaseID, &d.Path, &d.MimeType, &d.FileName, &docType, &d.ParentID, &d.SizeBytes, &d.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("document not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}
	d.Type = model.DocumentType(docType)
	return &d, nil
}

func scanArtifact(row scannable) (*model.Artifact, error) {
	var a model.Artifact
	err := row.Scan(&a.ID, &a.CaseID, &a.Content, &a.Version, &a.Stale, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan artifact")
	}
	return &a, nil
}
