package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previdia/case-pipeline/internal/blob"
	"github.com/previdia/case-pipeline/internal/config"
	"github.com/previdia/case-pipeline/internal/consolidate"
	"github.com/previdia/case-pipeline/internal/extract"
	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/pipeline"
	"github.com/previdia/case-pipeline/internal/quality"
	"github.com/previdia/case-pipeline/internal/store"
	"github.com/previdia/case-pipeline/internal/task"
	"github.com/previdia/case-pipeline/internal/validation"
	"github.com/previdia/case-pipeline/pkg/anthropic"
)

type noopClient struct{}

func (noopClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "{}"}}}, nil
}

func newTestEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.NewFSStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	profiles, err := validation.LoadProfiles("")
	require.NoError(t, err)

	client := noopClient{}
	extractor := extract.New(st, blobs, client, config.ExtractConfig{BatchSize: 3}, "test-model")
	consolidator := consolidate.New(st)
	validator := validation.New(st, client, profiles, config.ValidationConfig{}, "test-model")

	return &pipelineEnv{
		Store:        st,
		Blobs:        blobs,
		Pipeline:     pipeline.New(st, blobs, extractor, consolidator, validator),
		Extractor:    extractor,
		Consolidator: consolidator,
		Validator:    validator,
		Quality:      quality.New(st, client, config.QualityConfig{}, "test-model"),
		Tasks:        task.NewManager(),
	}
}

func TestRouter_Health(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_ProcessAcceptedAndTaskFails(t *testing.T) {
	cfg = &config.Config{Task: config.TaskConfig{PollTimeoutSecs: 5}}
	env := newTestEnv(t)
	router := newRouter(env)

	payload, _ := json.Marshal(map[string]string{"profile": "rural_maternity"})
	req := httptest.NewRequest(http.MethodPost, "/cases/case-1/process", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted["task_id"])

	// The case has no documents, so the pipeline fails and the task
	// records the error.
	snapshot, done := env.Tasks.Wait(context.Background(), accepted["task_id"], 5*time.Second)
	require.True(t, done)
	assert.Equal(t, task.StatusFailed, snapshot.Status)
	assert.Contains(t, snapshot.Error, "documents")

	req = httptest.NewRequest(http.MethodGet, "/tasks/"+accepted["task_id"], nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got task.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "case-1", got.CaseID)
}

func TestRouter_ExtractionCoverage(t *testing.T) {
	cfg = &config.Config{}
	env := newTestEnv(t)
	router := newRouter(env)

	require.NoError(t, env.Store.InsertExtraction(context.Background(), &model.Extraction{
		ID:          "ext-1",
		CaseID:      "case-1",
		DocumentIDs: []string{"doc-a", "doc-b"},
		Fields:      model.FieldMap{},
		ExtractedAt: time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/cases/case-1/extractions/coverage?docs=doc-a,doc-b", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Count   int  `json:"count"`
		Covered bool `json:"covered"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.True(t, body.Covered)

	// A document no extraction covers yet.
	req = httptest.NewRequest(http.MethodGet, "/cases/case-1/extractions/coverage?docs=doc-z", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
	assert.False(t, body.Covered)

	// Missing docs parameter.
	req = httptest.NewRequest(http.MethodGet, "/cases/case-1/extractions/coverage", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_TaskNotFound(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/tasks/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_ProcessInvalidBody(t *testing.T) {
	cfg = &config.Config{}
	router := newRouter(newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/cases/case-1/process", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
