package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/resilience"
	"github.com/previdia/case-pipeline/pkg/anthropic"
)

// aiCheckSpecs configures the reviewer prompt for each AI-backed check.
var aiCheckSpecs = map[string]string{
	CheckAddressing: "Verifique o endereçamento da peça: o juízo indicado no cabeçalho deve ser competente para a comarca " +
		"do domicílio da parte autora e o vocativo deve estar correto.",
	CheckJurisdiction: "Verifique a competência: ações previdenciárias contra o INSS com valor até 60 salários mínimos " +
		"correm no Juizado Especial Federal; acima disso, na Vara Federal. Confira se o foro da peça respeita isso.",
	CheckGrammar: "Revise a gramática e a ortografia do texto: concordância, regência, crase e pontuação. " +
		"Ignore estilo; aponte apenas erros objetivos.",
	CheckCitations: "Verifique as citações legais e jurisprudenciais: artigos de lei existentes e pertinentes ao pedido, " +
		"súmulas e temas citados com número correto.",
}

const reviewerSystemPrompt = `Você é um revisor de peças processuais previdenciárias.
Avalie o texto apenas quanto ao critério indicado. Responda com UM ÚNICO objeto JSON:
{"ok": boolean, "issues": [{"severity": "high"|"medium"|"low", "detail": descrição objetiva do problema}]}
Se o texto atende ao critério, responda {"ok": true, "issues": []}.`

// aiVerdict is the reviewer's JSON answer for one check.
type aiVerdict struct {
	OK     bool `json:"ok"`
	Issues []struct {
		Severity string `json:"severity"`
		Detail   string `json:"detail"`
	} `json:"issues"`
}

// runAICheck evaluates one criterion over the artifact. Gateway failures
// leave the check not evaluated rather than failed.
func (e *Engine) runAICheck(ctx context.Context, name string, in *checkInput) checkResult {
	res := checkResult{name: name}

	var sb strings.Builder
	sb.WriteString("Critério de revisão: ")
	sb.WriteString(aiCheckSpecs[name])
	sb.WriteString("\n\n")
	if in.record != nil {
		if in.record.City != nil && in.record.State != nil {
			fmt.Fprintf(&sb, "Domicílio da parte autora: %s/%s\n", *in.record.City, *in.record.State)
		}
	}
	sb.WriteString("\nTexto da peça:\n")
	sb.WriteString(in.artifact.Content)

	req := anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 1024,
		System:    []anthropic.SystemBlock{{Text: reviewerSystemPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: sb.String()}},
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "quality:"+name)

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		zap.L().Warn("quality check not evaluated",
			zap.String("check", name), zap.Error(err))
		res.status = model.CheckNotEvaluated
		return res
	}
	e.addUsage(resp.Usage)

	var verdict aiVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text())), &verdict); err != nil {
		zap.L().Warn("quality check returned malformed verdict",
			zap.String("check", name), zap.Error(err))
		res.status = model.CheckNotEvaluated
		return res
	}

	if verdict.OK {
		res.status = model.CheckPassed
		return res
	}
	res.status = model.CheckFailed
	for _, is := range verdict.Issues {
		res.issues = append(res.issues, model.QualityIssue{
			Check:    name,
			Severity: severityOrDefault(is.Severity),
			Detail:   is.Detail,
		})
	}
	if len(res.issues) == 0 {
		res.issues = append(res.issues, model.QualityIssue{
			Check: name, Severity: model.SeverityMedium, Detail: "critério reprovado sem detalhamento",
		})
	}
	return res
}

func severityOrDefault(s string) model.IssueSeverity {
	switch model.IssueSeverity(strings.ToLower(s)) {
	case model.SeverityHigh, model.SeverityMedium, model.SeverityLow:
		return model.IssueSeverity(strings.ToLower(s))
	default:
		return model.SeverityMedium
	}
}

// extractJSONObject trims fences and surrounding prose from a model answer.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
