package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previdia/case-pipeline/internal/config"
	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/resilience"
	"github.com/previdia/case-pipeline/internal/store"
	"github.com/previdia/case-pipeline/pkg/anthropic"
)

// fakeClient returns canned responses in order, then repeats the last one.
type fakeClient struct {
	responses []fakeResponse
	calls     int
	requests  []anthropic.MessageRequest
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.requests = append(f.requests, req)
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: r.text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

// memBlobs serves payloads from memory keyed by path.
type memBlobs struct {
	data map[string][]byte
}

func (m *memBlobs) Download(_ context.Context, path string) ([]byte, error) {
	b, ok := m.data[path]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", path)
	}
	return b, nil
}

func (m *memBlobs) Upload(_ context.Context, data []byte, ext string) (string, error) {
	path := fmt.Sprintf("mem/%d%s", len(m.data), ext)
	m.data[path] = data
	return path, nil
}

func newExtractFixture(t *testing.T, docCount int, responses []fakeResponse) (*Extractor, *fakeClient, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	blobs := &memBlobs{data: map[string][]byte{}}
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < docCount; i++ {
		path := fmt.Sprintf("blob/doc-%d.pdf", i)
		blobs.data[path] = []byte("pdf bytes")
		doc := &model.Document{
			ID:         fmt.Sprintf("doc-%d", i),
			CaseID:     "case-1",
			Path:       path,
			MimeType:   "application/pdf",
			FileName:   fmt.Sprintf("doc-%d.pdf", i),
			Type:       model.DocTypeRuralSelfDeclaration,
			SizeBytes:  1024,
			UploadedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, st.CreateDocument(context.Background(), doc))
	}

	client := &fakeClient{responses: responses}
	cfg := config.ExtractConfig{BatchSize: 3, MaxDocumentBytes: 4 << 20, MaxRetries: 1}
	ex := New(st, blobs, client, cfg, "claude-sonnet-4-5-20250929")
	return ex, client, st
}

const goodResponse = `{"claimant_name": "Maria da Silva", "cpf": "123.456.789-00",
	"rural_periods": [{"start_date": "2015-01-01", "end_date": "2020-12-31", "location": "Sítio Boa Vista"}],
	"missing_fields": ["rg"], "observations": "assinatura ilegível"}`

func TestExtractor_SingleBatch(t *testing.T) {
	ex, client, st := newExtractFixture(t, 2, []fakeResponse{{text: goodResponse}})

	res, err := ex.Run(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalBatches)
	assert.Equal(t, 1, res.Extracted)
	assert.Equal(t, 0, res.FailedBatches)
	assert.True(t, res.Complete())
	assert.Equal(t, 1, client.calls)

	exts, err := st.ListExtractions(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.ElementsMatch(t, []string{"doc-0", "doc-1"}, exts[0].DocumentIDs)
	require.NotNil(t, exts[0].Fields.ClaimantName)
	assert.Equal(t, "Maria da Silva", *exts[0].Fields.ClaimantName)
	assert.Equal(t, []string{"rg"}, exts[0].MissingFields)
	assert.Equal(t, "assinatura ilegível", exts[0].Observations)
	require.Len(t, exts[0].Fields.RuralPeriods, 1)
}

func TestExtractor_BatchesOfThree(t *testing.T) {
	ex, client, _ := newExtractFixture(t, 7, []fakeResponse{{text: goodResponse}})

	res, err := ex.Run(context.Background(), "case-1")
	require.NoError(t, err)
	// 7 documents at cap 3 means batches of 3, 3 and 1.
	assert.Equal(t, 3, res.TotalBatches)
	assert.Equal(t, 3, res.Extracted)
	assert.Equal(t, 3, client.calls)

	require.Len(t, client.requests, 3)
	assert.Len(t, client.requests[0].Messages[0].Documents, 3)
	assert.Len(t, client.requests[1].Messages[0].Documents, 3)
	assert.Len(t, client.requests[2].Messages[0].Documents, 1)
}

func TestExtractor_MalformedBatchDropped(t *testing.T) {
	ex, _, st := newExtractFixture(t, 6, []fakeResponse{
		{text: goodResponse},
		{text: "desculpe, não consegui ler os documentos"},
	})

	res, err := ex.Run(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalBatches)
	assert.Equal(t, 1, res.Extracted)
	assert.Equal(t, 1, res.FailedBatches)
	assert.False(t, res.Complete())

	// The malformed batch left no partial rows behind.
	exts, err := st.ListExtractions(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Len(t, exts, 1)
}

func TestExtractor_OversizedDocumentSkipped(t *testing.T) {
	ex, client, st := newExtractFixture(t, 2, []fakeResponse{{text: goodResponse}})

	big := &model.Document{
		ID: "doc-big", CaseID: "case-1", Path: "blob/big.pdf",
		MimeType: "application/pdf", FileName: "big.pdf",
		Type: model.DocTypeCNISStatement, SizeBytes: 10 << 20,
		UploadedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateDocument(context.Background(), big))

	res, err := ex.Run(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "doc-big", res.Skipped[0].DocumentID)
	assert.Contains(t, res.Skipped[0].Reason, "over the")
	assert.Equal(t, 1, res.TotalBatches)
	assert.Equal(t, 1, client.calls)
}

func TestExtractor_NoDocuments(t *testing.T) {
	ex, _, _ := newExtractFixture(t, 0, []fakeResponse{{text: goodResponse}})

	_, err := ex.Run(context.Background(), "case-1")
	require.Error(t, err)
	var missing *resilience.MissingPrerequisiteError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "extract", missing.Operation)
}

func TestExtractor_UnknownKeysLandInExtra(t *testing.T) {
	resp := `{"claimant_name": "Maria", "numero_beneficio": "42-1", "observations": ""}`
	ex, _, st := newExtractFixture(t, 1, []fakeResponse{{text: resp}})

	_, err := ex.Run(context.Background(), "case-1")
	require.NoError(t, err)

	exts, err := st.ListExtractions(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, "42-1", exts[0].Fields.Extra["numero_beneficio"])
}

func TestExtractor_FencedJSONAccepted(t *testing.T) {
	resp := "```json\n" + goodResponse + "\n```"
	ex, _, _ := newExtractFixture(t, 1, []fakeResponse{{text: resp}})

	res, err := ex.Run(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extracted)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"Segue o resultado:\n{\"a\": 1}\nEspero ter ajudado.", `{"a": 1}`},
		{"sem json aqui", "sem json aqui"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, cleanJSON(tt.input), "input: %q", tt.input)
	}
}

func TestBatchDocuments(t *testing.T) {
	docs := make([]model.Document, 5)
	batches := batchDocuments(docs, 3)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 2)

	assert.Nil(t, batchDocuments(nil, 3))
}
