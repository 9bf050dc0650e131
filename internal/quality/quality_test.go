package quality

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

// scriptedClient answers reviewer calls from per-check verdict queues and
// corrector calls with a fixed proposal.
type scriptedClient struct {
	verdicts   map[string][]string // check name -> queued JSON verdicts
	correction string
	corrCalls  int
	failCheck  map[string]error // check name -> gateway error to return
}

func (c *scriptedClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	usage := anthropic.TokenUsage{InputTokens: 100, OutputTokens: 40}
	text := req.Messages[0].Content

	if req.System[0].Text == correctorSystemPrompt {
		c.corrCalls++
		return &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{Type: "text", Text: c.correction}},
			Usage:   usage,
		}, nil
	}

	for name, spec := range aiCheckSpecs {
		if !containsSpec(text, spec) {
			continue
		}
		if err, ok := c.failCheck[name]; ok {
			return nil, err
		}
		queue := c.verdicts[name]
		verdict := `{"ok": true, "issues": []}`
		if len(queue) > 0 {
			verdict = queue[0]
			c.verdicts[name] = queue[1:]
		}
		return &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{Type: "text", Text: verdict}},
			Usage:   usage,
		}, nil
	}
	return nil, fmt.Errorf("unrecognized request")
}

func containsSpec(text, spec string) bool {
	return len(spec) > 0 && len(text) >= len(spec) && (stringIndex(text, spec) >= 0)
}

func stringIndex(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func strptr(s string) *string { return &s }

// goodContent passes both deterministic checks for a 2023 birth at 4
// months of the 2023 minimum wage (4 x 1320.00).
const goodContent = `EXCELENTÍSSIMO SENHOR DOUTOR JUIZ FEDERAL DO JUIZADO ESPECIAL FEDERAL
A autora requer o salário-maternidade. Dá-se à causa o valor da causa: R$ 5.280,00.`

func seedQualityFixture(t *testing.T, content string) (store.Store, *model.Artifact) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	rec := model.NewCaseRecord("case-1")
	rec.ClaimantName = strptr("Maria da Silva")
	rec.CPF = strptr("123.456.789-00")
	rec.Address = strptr("Sítio Boa Vista, zona rural")
	rec.City = strptr("Sousa")
	rec.State = strptr("PB")
	rec.ChildBirthDate = strptr("2023-05-10")
	rec.UpdatedAt = time.Now().UTC()
	require.NoError(t, st.ReplaceCaseRecord(context.Background(), rec))

	artifact := &model.Artifact{
		ID:        "art-1",
		CaseID:    "case-1",
		Content:   content,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveArtifact(context.Background(), artifact))
	return st, artifact
}

func newEngine(st store.Store, client anthropic.Client) *Engine {
	return New(st, client, config.QualityConfig{BenefitMonths: 4}, "claude-haiku-4-5-20251001")
}

func TestEngine_AllChecksPass(t *testing.T) {
	st, _ := seedQualityFixture(t, goodContent)
	client := &scriptedClient{verdicts: map[string][]string{}}

	report, err := newEngine(st, client).Run(context.Background(), "case-1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityApproved, report.Status)
	assert.True(t, report.AddressingOK)
	assert.True(t, report.JurisdictionOK)
	assert.True(t, report.ClaimValueValidated)
	assert.True(t, report.DataComplete)
	assert.True(t, report.GrammarOK)
	assert.True(t, report.CitationsValidated)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.ChecksNotEvaluated)
	assert.Equal(t, 0, client.corrCalls)

	// No correction means no version bump.
	a, err := st.GetArtifact(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Version)
}

func TestEngine_SingleCorrectionPassFixesDefects(t *testing.T) {
	// Three induced defects: wrong claim value, a draft placeholder and a
	// grammar failure from the reviewer.
	badContent := `EXCELENTÍSSIMO SENHOR DOUTOR JUIZ
Autora: [[NOME]]. Dá-se à causa o valor da causa: R$ 1.000,00.`
	st, _ := seedQualityFixture(t, badContent)

	client := &scriptedClient{
		verdicts: map[string][]string{
			// Fails on first evaluation, passes on re-evaluation.
			CheckGrammar: {
				`{"ok": false, "issues": [{"severity": "low", "detail": "concordância verbal"}]}`,
				`{"ok": true, "issues": []}`,
			},
		},
		correction: `{"content": "EXCELENTÍSSIMO SENHOR DOUTOR JUIZ\nAutora: Maria da Silva. Dá-se à causa o valor da causa: R$ 5.280,00.", "confidence": 0.95, "corrections": [{"check": "claim_value", "before": "R$ 1.000,00", "after": "R$ 5.280,00"}, {"check": "data_complete", "before": "[[NOME]]", "after": "Maria da Silva"}, {"check": "grammar", "before": "", "after": ""}]}`,
	}

	report, err := newEngine(st, client).Run(context.Background(), "case-1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityAutoCorrected, report.Status)
	assert.True(t, report.ClaimValueValidated)
	assert.True(t, report.DataComplete)
	assert.True(t, report.GrammarOK)
	assert.Empty(t, report.Issues)

	// Exactly one correction pass, never a loop.
	assert.Equal(t, 1, client.corrCalls)

	a, err := st.GetArtifact(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Version)
	assert.Contains(t, a.Content, "R$ 5.280,00")
	assert.False(t, a.Stale)

	entries, err := st.ListCorrections(context.Background(), "art-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	byCheck := map[string]model.CorrectionEntry{}
	for _, e := range entries {
		byCheck[e.Check] = e
	}
	assert.Equal(t, "R$ 5.280,00", byCheck[CheckClaimValue].AfterExcerpt)
	assert.True(t, byCheck[CheckDataComplete].AutoApplied)
	assert.InDelta(t, 0.95, byCheck[CheckGrammar].Confidence, 0.001)

	// The computable defects were rewritten directly, full confidence.
	assert.InDelta(t, 1.0, byCheck[CheckClaimValue].Confidence, 0.001)
	assert.InDelta(t, 1.0, byCheck[CheckDataComplete].Confidence, 0.001)
}

func TestEngine_DeterministicDefectsFixedWithoutModel(t *testing.T) {
	// Wrong claim value and a fillable placeholder, nothing for the
	// corrector to do: both rewrites come straight from the record.
	badContent := `EXCELENTÍSSIMO SENHOR DOUTOR JUIZ
Autora: [[NOME]], CPF {{CPF}}. Dá-se à causa o valor da causa: R$ 1.000,00.`
	st, _ := seedQualityFixture(t, badContent)

	client := &scriptedClient{verdicts: map[string][]string{}}

	report, err := newEngine(st, client).Run(context.Background(), "case-1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityAutoCorrected, report.Status)
	assert.True(t, report.ClaimValueValidated)
	assert.True(t, report.DataComplete)
	assert.Equal(t, 0, client.corrCalls)

	a, err := st.GetArtifact(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Version)
	assert.Contains(t, a.Content, "R$ 5.280,00")
	assert.Contains(t, a.Content, "Autora: Maria da Silva")
	assert.Contains(t, a.Content, "CPF 123.456.789-00")

	entries, err := st.ListCorrections(context.Background(), "art-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.InDelta(t, 1.0, e.Confidence, 0.001)
	}
}

func TestEngine_LowConfidenceCorrectionNotApplied(t *testing.T) {
	st, _ := seedQualityFixture(t, goodContent)

	client := &scriptedClient{
		verdicts: map[string][]string{
			CheckGrammar: {`{"ok": false, "issues": [{"severity": "low", "detail": "concordância verbal"}]}`},
		},
		correction: `{"content": "texto qualquer", "confidence": 0.3, "corrections": []}`,
	}

	report, err := newEngine(st, client).Run(context.Background(), "case-1")
	require.NoError(t, err)

	assert.Equal(t, model.QualityApprovedWithWarnings, report.Status)
	assert.False(t, report.GrammarOK)
	assert.NotEmpty(t, report.Issues)
	assert.Equal(t, 1, client.corrCalls)

	// The low-confidence proposal was discarded and the artifact untouched.
	a, err := st.GetArtifact(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, goodContent, a.Content)

	entries, err := st.ListCorrections(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_GatewayFailureMeansNotEvaluated(t *testing.T) {
	st, _ := seedQualityFixture(t, goodContent)

	client := &scriptedClient{
		verdicts: map[string][]string{},
		failCheck: map[string]error{
			CheckCitations: resilience.NewGatewayError(
				fmt.Errorf("request timed out"), resilience.KindClient, 0),
		},
	}

	report, err := newEngine(st, client).Run(context.Background(), "case-1")
	require.NoError(t, err)

	// Not evaluated is neither passed nor failed: it stays out of the
	// verdict and is surfaced separately.
	assert.Equal(t, model.QualityApproved, report.Status)
	assert.Contains(t, report.ChecksNotEvaluated, CheckCitations)
	assert.False(t, report.CitationsValidated)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 0, client.corrCalls)
}

// conflictStore simulates a concurrent regeneration: the first versioned
// update loses, later ones go through.
type conflictStore struct {
	store.Store
	conflicts int
}

func (c *conflictStore) UpdateArtifactContent(ctx context.Context, artifactID, content string, expectedVersion int) (bool, error) {
	if c.conflicts > 0 {
		c.conflicts--
		return false, nil
	}
	return c.Store.UpdateArtifactContent(ctx, artifactID, content, expectedVersion)
}

func TestEngine_VersionConflictRestartsOnce(t *testing.T) {
	st, _ := seedQualityFixture(t, goodContent)
	cs := &conflictStore{Store: st, conflicts: 1}

	// Grammar fails on both initial evaluations (the conflicted cycle and
	// the restart), then passes after the applied correction.
	client := &scriptedClient{
		verdicts: map[string][]string{
			CheckGrammar: {
				`{"ok": false, "issues": [{"severity": "low", "detail": "crase"}]}`,
				`{"ok": false, "issues": [{"severity": "low", "detail": "crase"}]}`,
				`{"ok": true, "issues": []}`,
			},
		},
		correction: `{"content": "Dá-se à causa o valor da causa: R$ 5.280,00.", "confidence": 0.9, "corrections": [{"check": "grammar", "before": "a", "after": "à"}]}`,
	}

	engine := New(cs, client, config.QualityConfig{BenefitMonths: 4}, "claude-haiku-4-5-20251001")
	report, err := engine.Run(context.Background(), "case-1")
	require.NoError(t, err)

	// Two evaluate+correct cycles: the conflicted one and the restart.
	assert.Equal(t, 2, client.corrCalls)
	assert.Equal(t, model.QualityAutoCorrected, report.Status)

	a, err := st.GetArtifact(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Version)
}

func TestEngine_NoArtifact(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	_, err = newEngine(st, &scriptedClient{verdicts: map[string][]string{}}).Run(context.Background(), "case-1")
	require.Error(t, err)
	var missing *resilience.MissingPrerequisiteError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "quality", missing.Operation)
}

func TestCheckClaimValue(t *testing.T) {
	rec := model.NewCaseRecord("case-1")
	rec.ChildBirthDate = strptr("2023-05-10")

	tests := []struct {
		name    string
		content string
		status  model.CheckStatus
	}{
		{"correct value", "valor da causa: R$ 5.280,00", model.CheckPassed},
		{"wrong value", "valor da causa: R$ 4.000,00", model.CheckFailed},
		{"absent", "peça sem valor declarado", model.CheckFailed},
		{"case insensitive", "VALOR DA CAUSA: R$ 5.280,00", model.CheckPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &checkInput{
				artifact:      &model.Artifact{Content: tt.content},
				record:        rec,
				benefitMonths: 4,
			}
			res := checkClaimValue(context.Background(), in)
			assert.Equal(t, tt.status, res.status)
		})
	}
}

func TestCheckDataComplete_Placeholders(t *testing.T) {
	rec := model.NewCaseRecord("case-1")
	rec.ClaimantName = strptr("Maria")
	rec.CPF = strptr("123")
	rec.Address = strptr("Sítio")

	in := &checkInput{
		artifact: &model.Artifact{Content: "Autora: [[NOME]], residente em ___"},
		record:   rec,
	}
	res := checkDataComplete(context.Background(), in)
	assert.Equal(t, model.CheckFailed, res.status)
	assert.NotEmpty(t, res.issues)
}

func TestCorrectClaimValue(t *testing.T) {
	rec := model.NewCaseRecord("case-1")
	rec.ChildBirthDate = strptr("2023-05-10")

	fixed, ex, ok := correctClaimValue("valor da causa: R$ 1.000,00", rec, 4)
	require.True(t, ok)
	assert.Equal(t, "valor da causa: R$ 5.280,00", fixed)
	assert.Equal(t, "R$ 1.000,00", ex.Before)
	assert.Equal(t, "R$ 5.280,00", ex.After)

	// No declared value means nothing to rewrite.
	_, _, ok = correctClaimValue("peça sem valor declarado", rec, 4)
	assert.False(t, ok)

	// An already correct value is left alone.
	_, _, ok = correctClaimValue("valor da causa: R$ 5.280,00", rec, 4)
	assert.False(t, ok)
}

func TestFillPlaceholders(t *testing.T) {
	rec := model.NewCaseRecord("case-1")
	rec.ClaimantName = strptr("Maria da Silva")
	rec.CPF = strptr("123.456.789-00")
	rec.Address = strptr("Sítio Boa Vista")

	fixed, exs, ok := fillPlaceholders("Autora: [[NOME]], CPF {{CPF}}, residente em [[ENDEREÇO]]", rec)
	require.True(t, ok)
	assert.Equal(t, "Autora: Maria da Silva, CPF 123.456.789-00, residente em Sítio Boa Vista", fixed)
	assert.Len(t, exs, 3)

	// Unknown labels and unlabeled markers are left for the reviewer.
	fixed, _, ok = fillPlaceholders("Testemunha: [[TESTEMUNHA]], data ___", rec)
	assert.False(t, ok)
	assert.Contains(t, fixed, "[[TESTEMUNHA]]")

	_, _, ok = fillPlaceholders("Autora: [[NOME]]", model.NewCaseRecord("case-2"))
	assert.False(t, ok)
}

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "5.280,00", formatBRL(5280))
	assert.Equal(t, "954,00", formatBRL(954))
	assert.Equal(t, "1.412,00", formatBRL(1412))
	assert.Equal(t, "1.234.567,89", formatBRL(1234567.89))
}

func TestParseBRL(t *testing.T) {
	v, err := parseBRL("5.280,00")
	require.NoError(t, err)
	assert.InDelta(t, 5280.00, v, 0.001)

	v, err = parseBRL("954,00")
	require.NoError(t, err)
	assert.InDelta(t, 954.00, v, 0.001)
}
