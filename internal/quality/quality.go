package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/previdia/case-pipeline/internal/config"
	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/resilience"
	"github.com/previdia/case-pipeline/internal/store"
	"github.com/previdia/case-pipeline/pkg/anthropic"
)

// minCorrectionConfidence gates auto-application of a proposed correction.
const minCorrectionConfidence = 0.8

// maxCheckConcurrency bounds parallel AI review calls per artifact.
const maxCheckConcurrency = 4

// Engine runs the quality loop over a case's generated artifact: evaluate
// all checks concurrently, apply at most one correction pass, re-evaluate
// what failed, classify. Checks are read-only; the artifact is only written
// through a versioned update so a concurrent regeneration never gets
// silently overwritten.
type Engine struct {
	store  store.Store
	client anthropic.Client
	cfg    config.QualityConfig
	model  string

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

// New creates an Engine. modelID is the review model, typically the cheaper
// scoring tier.
func New(st store.Store, client anthropic.Client, cfg config.QualityConfig, modelID string) *Engine {
	if cfg.BenefitMonths <= 0 {
		cfg.BenefitMonths = 4
	}
	return &Engine{store: st, client: client, cfg: cfg, model: modelID}
}

func (e *Engine) addUsage(u anthropic.TokenUsage) {
	e.mu.Lock()
	e.usage.Add(u)
	e.mu.Unlock()
}

// Run evaluates the case's latest artifact and stores the quality report.
// On an optimistic-version conflict during correction the loop restarts
// once against the newer artifact; a second conflict surfaces as an error.
func (e *Engine) Run(ctx context.Context, caseID string) (*model.QualityReport, error) {
	log := zap.L().With(zap.String("case_id", caseID))

	artifact, err := e.store.GetCaseArtifact(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "quality: get artifact")
	}
	if artifact == nil {
		return nil, &resilience.MissingPrerequisiteError{Operation: "quality", Missing: "generated artifact"}
	}

	record, err := e.store.GetCaseRecord(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "quality: get case record")
	}

	report, conflict, err := e.runOnce(ctx, artifact, record)
	if err != nil {
		return nil, err
	}
	if conflict {
		log.Warn("artifact version conflict, restarting quality loop")
		artifact, err = e.store.GetArtifact(ctx, artifact.ID)
		if err != nil {
			return nil, eris.Wrap(err, "quality: reload artifact")
		}
		if artifact == nil {
			return nil, eris.New("quality: artifact disappeared during restart")
		}
		report, conflict, err = e.runOnce(ctx, artifact, record)
		if err != nil {
			return nil, err
		}
		if conflict {
			return nil, eris.New("quality: artifact version conflict after restart")
		}
	}

	if err := e.store.ReplaceQualityReport(ctx, report); err != nil {
		return nil, eris.Wrap(err, "quality: replace report")
	}

	e.usage.LogCost(e.model, "quality")
	log.Info("quality loop finished",
		zap.String("artifact_id", report.ArtifactID),
		zap.String("status", string(report.Status)),
		zap.Int("issues", len(report.Issues)),
		zap.Strings("not_evaluated", report.ChecksNotEvaluated))
	return report, nil
}

// runOnce is one evaluate-correct-reevaluate cycle. The bool result reports
// an optimistic-version conflict the caller may retry once.
func (e *Engine) runOnce(ctx context.Context, artifact *model.Artifact, record *model.CaseRecord) (*model.QualityReport, bool, error) {
	in := &checkInput{artifact: artifact, record: record, benefitMonths: e.cfg.BenefitMonths}

	results, err := e.evaluate(ctx, in)
	if err != nil {
		return nil, false, err
	}

	corrected := false
	failed := failedChecks(results)
	if len(failed) > 0 {
		content := artifact.Content
		applied := map[string]float64{}
		var excerpts []correctionExcerpt

		// Deterministic defects are recomputed from case data and never
		// routed through the model.
		for _, name := range failed {
			switch name {
			case CheckClaimValue:
				if fixed, ex, ok := correctClaimValue(content, record, e.cfg.BenefitMonths); ok {
					content = fixed
					excerpts = append(excerpts, ex)
					applied[name] = 1
				}
			case CheckDataComplete:
				if fixed, exs, ok := fillPlaceholders(content, record); ok {
					content = fixed
					excerpts = append(excerpts, exs...)
					applied[name] = 1
				}
			}
		}

		// Wording defects share one model rewrite of the already patched
		// text, gated on the corrector's confidence.
		var aiFailed []string
		for _, name := range failed {
			if _, ok := aiCheckSpecs[name]; ok {
				aiFailed = append(aiFailed, name)
			}
		}
		if len(aiFailed) > 0 {
			proposal, err := e.propose(ctx, content, record, collectIssues(results, aiFailed))
			if err != nil {
				// Correction is best effort: a failed proposal leaves the
				// failures documented in the report.
				zap.L().Warn("correction proposal failed", zap.Error(err))
			} else if proposal.Confidence >= minCorrectionConfidence {
				content = proposal.Content
				excerpts = append(excerpts, proposal.Excerpts...)
				for _, name := range aiFailed {
					applied[name] = proposal.Confidence
				}
			}
		}

		if len(applied) > 0 {
			ok, err := e.store.UpdateArtifactContent(ctx, artifact.ID, content, artifact.Version)
			if err != nil {
				return nil, false, eris.Wrap(err, "quality: update artifact")
			}
			if !ok {
				return nil, true, nil
			}
			corrected = true
			if err := e.recordCorrections(ctx, artifact.ID, applied, excerpts); err != nil {
				return nil, false, err
			}

			// Re-evaluate only what failed, against the corrected text.
			// One pass, never a second correction.
			updated, err := e.store.GetArtifact(ctx, artifact.ID)
			if err != nil {
				return nil, false, eris.Wrap(err, "quality: reload corrected artifact")
			}
			reIn := &checkInput{artifact: updated, record: record, benefitMonths: e.cfg.BenefitMonths}
			for i, r := range results {
				if r.status != model.CheckFailed {
					continue
				}
				results[i] = e.runCheck(ctx, r.name, reIn)
			}
		}
	}

	return buildReport(artifact, results, corrected), false, nil
}

// evaluate runs every check concurrently against the same read-only input.
func (e *Engine) evaluate(ctx context.Context, in *checkInput) ([]checkResult, error) {
	names := []string{
		CheckAddressing, CheckJurisdiction, CheckClaimValue,
		CheckDataComplete, CheckGrammar, CheckCitations,
	}
	results := make([]checkResult, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCheckConcurrency)
	for i, name := range names {
		g.Go(func() error {
			results[i] = e.runCheck(gctx, name, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "quality: evaluate")
	}
	return results, nil
}

func (e *Engine) runCheck(ctx context.Context, name string, in *checkInput) checkResult {
	switch name {
	case CheckClaimValue:
		return checkClaimValue(ctx, in)
	case CheckDataComplete:
		return checkDataComplete(ctx, in)
	default:
		return e.runAICheck(ctx, name, in)
	}
}

// correctionProposal is the corrector's answer: the full corrected text
// plus excerpts for the audit trail.
type correctionProposal struct {
	Content    string
	Confidence float64
	Excerpts   []correctionExcerpt
}

type correctionExcerpt struct {
	Check  string `json:"check"`
	Before string `json:"before"`
	After  string `json:"after"`
}

const correctorSystemPrompt = `Você é um revisor que corrige defeitos apontados em uma peça processual.
Corrija SOMENTE os problemas listados; não altere mérito, pedidos ou fundamentação.
Responda com UM ÚNICO objeto JSON:
{
  "content": o texto integral corrigido,
  "confidence": número de 0 a 1 indicando sua confiança de que as correções são seguras,
  "corrections": [{"check": critério, "before": trecho original, "after": trecho corrigido}]
}
Se não for possível corrigir com segurança, use confidence baixa.`

// propose asks the corrector for a single rewrite of the given text.
func (e *Engine) propose(ctx context.Context, content string, record *model.CaseRecord, issues []model.QualityIssue) (*correctionProposal, error) {
	var sb strings.Builder
	sb.WriteString("Defeitos a corrigir:\n")
	for _, is := range issues {
		fmt.Fprintf(&sb, "- [%s/%s] %s\n", is.Check, is.Severity, is.Detail)
	}
	if record != nil {
		if summary, err := json.Marshal(record); err == nil {
			sb.WriteString("\nDados consolidados do caso:\n")
			sb.Write(summary)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nTexto da peça:\n")
	sb.WriteString(content)

	req := anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 8192,
		System:    []anthropic.SystemBlock{{Text: correctorSystemPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: sb.String()}},
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "quality:correct")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "quality: correction call")
	}
	e.addUsage(resp.Usage)

	var parsed struct {
		Content     string              `json:"content"`
		Confidence  float64             `json:"confidence"`
		Corrections []correctionExcerpt `json:"corrections"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text())), &parsed); err != nil {
		return nil, &resilience.MalformedResponseError{Unit: "correction proposal", Err: err}
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return nil, &resilience.MalformedResponseError{
			Unit: "correction proposal",
			Err:  eris.New("empty corrected content"),
		}
	}
	return &correctionProposal{
		Content:    parsed.Content,
		Confidence: parsed.Confidence,
		Excerpts:   parsed.Corrections,
	}, nil
}

// recordCorrections appends one audit entry per applied check. The first
// excerpt wins per check, so a deterministic rewrite is never shadowed by
// the corrector's restatement of it.
func (e *Engine) recordCorrections(ctx context.Context, artifactID string, applied map[string]float64, excerpts []correctionExcerpt) error {
	now := time.Now().UTC()
	excerptByCheck := map[string]correctionExcerpt{}
	for _, ex := range excerpts {
		if _, ok := excerptByCheck[ex.Check]; !ok {
			excerptByCheck[ex.Check] = ex
		}
	}

	checks := make([]string, 0, len(applied))
	for check := range applied {
		checks = append(checks, check)
	}
	sort.Strings(checks)

	for _, check := range checks {
		ex := excerptByCheck[check]
		entry := &model.CorrectionEntry{
			ID:            uuid.New().String(),
			ArtifactID:    artifactID,
			Check:         check,
			BeforeExcerpt: ex.Before,
			AfterExcerpt:  ex.After,
			Confidence:    applied[check],
			AutoApplied:   true,
			AppliedAt:     now,
		}
		if err := e.store.AppendCorrection(ctx, entry); err != nil {
			return eris.Wrap(err, "quality: append correction")
		}
	}
	return nil
}

func failedChecks(results []checkResult) []string {
	var failed []string
	for _, r := range results {
		if r.status == model.CheckFailed {
			failed = append(failed, r.name)
		}
	}
	return failed
}

func collectIssues(results []checkResult, names []string) []model.QualityIssue {
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}
	var issues []model.QualityIssue
	for _, r := range results {
		if wanted[r.name] {
			issues = append(issues, r.issues...)
		}
	}
	return issues
}

// buildReport classifies the final check states. A check that could not be
// evaluated is reported as such and never counts toward approval.
func buildReport(artifact *model.Artifact, results []checkResult, corrected bool) *model.QualityReport {
	report := &model.QualityReport{
		ArtifactID:  artifact.ID,
		CaseID:      artifact.CaseID,
		EvaluatedAt: time.Now().UTC(),
	}

	anyFailed := false
	for _, r := range results {
		passed := r.status == model.CheckPassed
		switch r.name {
		case CheckAddressing:
			report.AddressingOK = passed
		case CheckJurisdiction:
			report.JurisdictionOK = passed
		case CheckClaimValue:
			report.ClaimValueValidated = passed
		case CheckDataComplete:
			report.DataComplete = passed
		case CheckGrammar:
			report.GrammarOK = passed
		case CheckCitations:
			report.CitationsValidated = passed
		}
		switch r.status {
		case model.CheckFailed:
			anyFailed = true
			report.Issues = append(report.Issues, r.issues...)
		case model.CheckNotEvaluated:
			report.ChecksNotEvaluated = append(report.ChecksNotEvaluated, r.name)
		}
	}

	// Only definite failures demote the artifact. A check that could not
	// run is listed in ChecksNotEvaluated and stays out of the verdict.
	switch {
	case anyFailed:
		report.Status = model.QualityApprovedWithWarnings
	case corrected:
		report.Status = model.QualityAutoCorrected
	default:
		report.Status = model.QualityApproved
	}
	return report
}
