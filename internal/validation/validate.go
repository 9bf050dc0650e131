package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/classifier"
	"github.com/previdia/case-pipeline/internal/config"
	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/resilience"
	"github.com/previdia/case-pipeline/internal/store"
	"github.com/previdia/case-pipeline/pkg/anthropic"
)

// Validator evaluates whether a case's document set is sufficient to file.
// The checklist part is deterministic; the score and recommendations come
// from the AI scorer. The stored report is always replaced whole.
type Validator struct {
	store    store.Store
	client   anthropic.Client
	profiles ProfileSet
	cutoff   float64
	model    string
}

// New creates a Validator.
func New(st store.Store, client anthropic.Client, profiles ProfileSet, cfg config.ValidationConfig, modelID string) *Validator {
	cutoff := cfg.SufficiencyCutoff
	if cutoff <= 0 {
		cutoff = 70
	}
	return &Validator{store: st, client: client, profiles: profiles, cutoff: cutoff, model: modelID}
}

// Run validates the case against the given legal profile and stores the
// resulting report.
func (v *Validator) Run(ctx context.Context, caseID string, profile model.LegalProfile) (*model.ValidationReport, error) {
	log := zap.L().With(zap.String("case_id", caseID), zap.String("profile", string(profile)))

	checklist, ok := v.profiles[profile]
	if !ok {
		return nil, eris.Errorf("validation: unknown profile %q", profile)
	}

	docs, err := v.store.ListDocuments(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "validation: list documents")
	}
	if len(docs) == 0 {
		return nil, &resilience.MissingPrerequisiteError{Operation: "validate", Missing: "documents"}
	}

	present := map[model.DocumentType]bool{}
	for _, d := range docs {
		present[d.Type] = true
	}

	items := evaluateChecklist(checklist, present)

	rec, err := v.store.GetCaseRecord(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "validation: get case record")
	}

	scored, usage, err := v.score(ctx, profile, items, rec)
	if err != nil {
		return nil, err
	}
	usage.LogCost(v.model, "validate")

	missing := suppressPresent(scored.MissingDocuments, present)

	essentialsPresent := true
	for _, item := range items {
		if item.Importance == model.ImportanceEssential && item.Status != model.ChecklistPresent {
			essentialsPresent = false
			break
		}
	}

	report := &model.ValidationReport{
		CaseID:           caseID,
		Profile:          profile,
		Score:            scored.Score,
		IsSufficient:     essentialsPresent && scored.Score >= v.cutoff,
		Checklist:        items,
		MissingDocuments: missing,
		Recommendations:  scored.Recommendations,
		EvaluatedAt:      time.Now().UTC(),
	}

	if err := v.store.ReplaceValidationReport(ctx, report); err != nil {
		return nil, eris.Wrap(err, "validation: replace report")
	}

	log.Info("case validated",
		zap.Float64("score", report.Score),
		zap.Bool("sufficient", report.IsSufficient),
		zap.Int("missing_documents", len(report.MissingDocuments)))
	return report, nil
}

// evaluateChecklist marks each profile item present or missing based on the
// classified document types on file.
func evaluateChecklist(p Profile, present map[model.DocumentType]bool) []model.ChecklistItem {
	items := make([]model.ChecklistItem, 0, len(p.Items))
	for _, it := range p.Items {
		status := model.ChecklistMissing
		if present[it.Type] {
			status = model.ChecklistPresent
		}
		items = append(items, model.ChecklistItem{
			Item:       it.Type,
			Label:      it.Label,
			Status:     status,
			Importance: it.Importance,
		})
	}
	return items
}

// scoredVerdict is the AI scorer's JSON answer.
type scoredVerdict struct {
	Score            float64 `json:"score"`
	MissingDocuments []struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
		Impact string `json:"impact"`
	} `json:"missing_documents"`
	Recommendations string `json:"recommendations"`
}

type scoredResult struct {
	Score            float64
	MissingDocuments []model.MissingDocument
	Recommendations  string
}

func (v *Validator) score(ctx context.Context, profile model.LegalProfile, items []model.ChecklistItem, rec *model.CaseRecord) (*scoredResult, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	req := anthropic.MessageRequest{
		Model:     v.model,
		MaxTokens: 2048,
		System:    []anthropic.SystemBlock{{Text: scorerSystemPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: buildScorerPrompt(profile, items, rec)}},
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "validate")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return v.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, usage, eris.Wrap(err, "validation: score")
	}
	usage.Add(resp.Usage)

	cleaned := extractJSONObject(resp.Text())
	var verdict scoredVerdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, usage, &resilience.MalformedResponseError{Unit: "validation verdict", Err: err}
	}
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 100 {
		verdict.Score = 100
	}

	out := &scoredResult{Score: verdict.Score, Recommendations: verdict.Recommendations}
	for _, md := range verdict.MissingDocuments {
		out.MissingDocuments = append(out.MissingDocuments, model.MissingDocument{
			Type:   resolveDocumentName(md.Name),
			Reason: md.Reason,
			Impact: md.Impact,
		})
	}
	return out, usage, nil
}

// suppressPresent drops scorer-requested documents the case already has.
// The scorer names documents in free text, so resolution runs through the
// same normalization as the classifier.
func suppressPresent(missing []model.MissingDocument, present map[model.DocumentType]bool) []model.MissingDocument {
	var out []model.MissingDocument
	for _, md := range missing {
		if md.Type != model.DocTypeOther && present[md.Type] {
			continue
		}
		out = append(out, md)
	}
	return out
}

// documentSynonyms maps normalized pt-BR document names to types. Keys must
// already be diacritic-stripped lowercase (classifier.Normalize form).
var documentSynonyms = map[string]model.DocumentType{
	"procuracao":                          model.DocTypePowerOfAttorney,
	"instrumento de mandato":              model.DocTypePowerOfAttorney,
	"certidao de nascimento":              model.DocTypeBirthCertificate,
	"certidao de nascimento da crianca":   model.DocTypeBirthCertificate,
	"certidao de casamento":               model.DocTypeMarriageCertificate,
	"autodeclaracao":                      model.DocTypeRuralSelfDeclaration,
	"autodeclaracao rural":                model.DocTypeRuralSelfDeclaration,
	"autodeclaracao de atividade rural":   model.DocTypeRuralSelfDeclaration,
	"autodeclaracao do segurado especial": model.DocTypeRuralSelfDeclaration,
	"itr":                                 model.DocTypeLandRecord,
	"ccir":                                model.DocTypeLandRecord,
	"documento da terra":                  model.DocTypeLandRecord,
	"documento de terra":                  model.DocTypeLandRecord,
	"declaracao do sindicato":             model.DocTypeUnionDeclaration,
	"declaracao sindical":                 model.DocTypeUnionDeclaration,
	"declaracao do sindicato rural":       model.DocTypeUnionDeclaration,
	"cnis":                                model.DocTypeCNISStatement,
	"extrato cnis":                        model.DocTypeCNISStatement,
	"extrato do cnis":                     model.DocTypeCNISStatement,
	"prontuario medico":                   model.DocTypeMedicalRecord,
	"prontuario":                          model.DocTypeMedicalRecord,
	"cartao de pre-natal":                 model.DocTypeMedicalRecord,
	"rg":                                  model.DocTypeIdentityDocument,
	"cpf":                                 model.DocTypeIdentityDocument,
	"documento de identidade":             model.DocTypeIdentityDocument,
	"carteira de identidade":              model.DocTypeIdentityDocument,
	"comprovante de residencia":           model.DocTypeProofOfResidence,
	"comprovante de endereco":             model.DocTypeProofOfResidence,
	"requerimento administrativo":         model.DocTypePriorRequest,
	"indeferimento administrativo":        model.DocTypePriorRequest,
	"comunicacao de decisao":              model.DocTypePriorRequest,
}

// resolveDocumentName maps a free-text document name from the scorer onto a
// document type, falling back to DocTypeOther.
func resolveDocumentName(name string) model.DocumentType {
	normalized := classifier.Normalize(name)
	if t, ok := documentSynonyms[normalized]; ok {
		return t
	}
	// Substring fallback skips short synonyms ("rg", "cpf") that false-match
	// inside unrelated words.
	for syn, t := range documentSynonyms {
		if len(syn) >= 4 && strings.Contains(normalized, syn) {
			return t
		}
	}
	return model.DocTypeOther
}

const scorerSystemPrompt = `Você é um advogado previdenciarista avaliando se um processo rural está pronto para protocolo.
Responda com UM ÚNICO objeto JSON:
{
  "score": número de 0 a 100 indicando a suficiência do conjunto probatório,
  "missing_documents": [{"name": nome do documento, "reason": por que é necessário, "impact": consequência da ausência}],
  "recommendations": orientações objetivas para completar o processo
}
Considere o peso probatório de cada documento para o perfil informado. Não liste documentos que já constam no checklist como presentes.`

// buildScorerPrompt renders the checklist state and consolidated record for
// the scorer.
func buildScorerPrompt(profile model.LegalProfile, items []model.ChecklistItem, rec *model.CaseRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Perfil do caso: %s\n\nChecklist de documentos:\n", profile)
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s [%s]: %s\n", it.Label, it.Importance, it.Status)
	}

	sb.WriteString("\nDados consolidados do caso:\n")
	if rec == nil {
		sb.WriteString("(ainda não consolidados)\n")
		return sb.String()
	}
	summary, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		sb.WriteString("(indisponíveis)\n")
		return sb.String()
	}
	sb.Write(summary)
	sb.WriteString("\n")
	return sb.String()
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
