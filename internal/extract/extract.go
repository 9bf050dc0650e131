package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/blob"
	"github.com/previdia/case-pipeline/internal/config"
	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/resilience"
	"github.com/previdia/case-pipeline/internal/store"
	"github.com/previdia/case-pipeline/pkg/anthropic"
)

// maxBatchSize caps documents per AI request regardless of configuration.
// Larger batches degrade extraction quality on scanned documents.
const maxBatchSize = 3

// Extractor runs AI extraction over a case's documents in fixed-size
// batches. Batches run sequentially; one failed batch never aborts the rest.
type Extractor struct {
	store  store.Store
	blobs  blob.Store
	client anthropic.Client
	cfg    config.ExtractConfig
	model  string
}

// New creates an Extractor.
func New(st store.Store, blobs blob.Store, client anthropic.Client, cfg config.ExtractConfig, modelID string) *Extractor {
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = 4 << 20
	}
	return &Extractor{store: st, blobs: blobs, client: client, cfg: cfg, model: modelID}
}

// SkippedDocument records a document excluded from extraction and why.
type SkippedDocument struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// Result is the N-of-M accounting for one extraction run.
type Result struct {
	CaseID        string            `json:"case_id"`
	TotalBatches  int               `json:"total_batches"`
	Extracted     int               `json:"extracted"`
	FailedBatches int               `json:"failed_batches"`
	Skipped       []SkippedDocument `json:"skipped,omitempty"`
	ExtractionIDs []string          `json:"extraction_ids,omitempty"`
}

// Complete reports whether every batch produced an extraction.
func (r *Result) Complete() bool { return r.FailedBatches == 0 }

// Run extracts structured fields from every document of the case. Documents
// over the size ceiling are skipped, the rest are grouped into batches and
// each batch becomes one immutable extraction row. Returns an error only
// when no batch could be attempted; per-batch failures are reported in the
// Result instead.
func (e *Extractor) Run(ctx context.Context, caseID string) (*Result, error) {
	log := zap.L().With(zap.String("case_id", caseID))

	docs, err := e.store.ListDocuments(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "extract: list documents")
	}
	if len(docs) == 0 {
		return nil, &resilience.MissingPrerequisiteError{Operation: "extract", Missing: "documents"}
	}

	res := &Result{CaseID: caseID}

	var eligible []model.Document
	for _, doc := range docs {
		if doc.SizeBytes > e.cfg.MaxDocumentBytes {
			oversized := &resilience.OversizedInputError{
				DocumentID: doc.ID,
				SizeBytes:  doc.SizeBytes,
				LimitBytes: e.cfg.MaxDocumentBytes,
			}
			log.Warn("skipping oversized document",
				zap.String("document_id", doc.ID),
				zap.Int64("size_bytes", doc.SizeBytes))
			res.Skipped = append(res.Skipped, SkippedDocument{DocumentID: doc.ID, Reason: oversized.Error()})
			continue
		}
		if mediaTypeFor(doc.MimeType) == "" {
			log.Warn("skipping unsupported media type",
				zap.String("document_id", doc.ID),
				zap.String("mime_type", doc.MimeType))
			res.Skipped = append(res.Skipped, SkippedDocument{
				DocumentID: doc.ID,
				Reason:     fmt.Sprintf("unsupported media type %q", doc.MimeType),
			})
			continue
		}
		eligible = append(eligible, doc)
	}
	if len(eligible) == 0 {
		return res, &resilience.MissingPrerequisiteError{Operation: "extract", Missing: "extractable documents"}
	}

	batches := batchDocuments(eligible, e.cfg.BatchSize)
	res.TotalBatches = len(batches)

	var usage anthropic.TokenUsage
	for i, batch := range batches {
		blog := log.With(zap.Int("batch", i+1), zap.Int("batches", len(batches)))
		ext, batchUsage, err := e.extractBatch(ctx, caseID, batch)
		usage.Add(batchUsage)
		if err != nil {
			if ctx.Err() != nil {
				return res, eris.Wrap(ctx.Err(), "extract: canceled")
			}
			blog.Error("batch extraction failed", zap.Error(err))
			res.FailedBatches++
			continue
		}
		if err := e.store.InsertExtraction(ctx, ext); err != nil {
			blog.Error("persist extraction failed", zap.Error(err))
			res.FailedBatches++
			continue
		}
		res.Extracted++
		res.ExtractionIDs = append(res.ExtractionIDs, ext.ID)
		blog.Info("batch extracted",
			zap.String("extraction_id", ext.ID),
			zap.Int("documents", len(batch)))
	}

	usage.LogCost(e.model, "extract")
	return res, nil
}

// extractBatch downloads the batch payloads, issues one AI request covering
// all of them and parses the response into an extraction row.
func (e *Extractor) extractBatch(ctx context.Context, caseID string, batch []model.Document) (*model.Extraction, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	msg := anthropic.Message{Role: "user"}
	var manifest strings.Builder
	for i, doc := range batch {
		data, err := e.blobs.Download(ctx, doc.Path)
		if err != nil {
			return nil, usage, eris.Wrapf(err, "extract: download document %s", doc.ID)
		}
		msg.Documents = append(msg.Documents, anthropic.DocumentPayload{
			MediaType: mediaTypeFor(doc.MimeType),
			Data:      data,
		})
		fmt.Fprintf(&manifest, "Documento %d: %s (tipo: %s)\n", i+1, doc.FileName, typeLabel(doc.Type))
	}
	msg.Content = buildUserPrompt(manifest.String(), batch)

	req := anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 4096,
		System:    []anthropic.SystemBlock{{Text: systemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}}},
		Messages:  []anthropic.Message{msg},
	}

	retryCfg := resilience.DefaultRetryConfig()
	if e.cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = e.cfg.MaxRetries
	}
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "extract")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, usage, eris.Wrap(err, "extract: create message")
	}
	usage.Add(resp.Usage)

	ext, err := parseExtraction(resp.Text())
	if err != nil {
		return nil, usage, err
	}

	ext.ID = uuid.New().String()
	ext.CaseID = caseID
	ext.ExtractedAt = time.Now().UTC()
	for _, doc := range batch {
		ext.DocumentIDs = append(ext.DocumentIDs, doc.ID)
	}
	return ext, usage, nil
}

// parseExtraction decodes the model's JSON answer. A response that does not
// contain a JSON object is a malformed unit: the batch is dropped, never
// half-applied.
func parseExtraction(text string) (*model.Extraction, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" || !strings.HasPrefix(cleaned, "{") {
		return nil, &resilience.MalformedResponseError{
			Unit: "extraction batch",
			Err:  eris.New("no JSON object in response"),
		}
	}

	var fields model.FieldMap
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, &resilience.MalformedResponseError{Unit: "extraction batch", Err: err}
	}

	// Sidecar keys ride alongside the field payload in the same object.
	var meta struct {
		MissingFields []string `json:"missing_fields"`
		Observations  string   `json:"observations"`
	}
	if err := json.Unmarshal([]byte(cleaned), &meta); err != nil {
		return nil, &resilience.MalformedResponseError{Unit: "extraction batch", Err: err}
	}

	return &model.Extraction{
		Fields:        fields,
		MissingFields: meta.MissingFields,
		Observations:  meta.Observations,
	}, nil
}

// batchDocuments splits docs into groups of at most size, preserving order.
func batchDocuments(docs []model.Document, size int) [][]model.Document {
	var batches [][]model.Document
	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[start:end])
	}
	return batches
}

// mediaTypeFor maps an upload MIME type onto an embeddable payload type.
// Returns "" for types the gateway cannot read.
func mediaTypeFor(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "application/pdf":
		return "application/pdf"
	case "image/jpeg", "image/jpg":
		return "image/jpeg"
	case "image/png":
		return "image/png"
	case "image/webp":
		return "image/webp"
	default:
		return ""
	}
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
