package quality

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/previdia/case-pipeline/internal/model"
)

// Check names double as correction-history keys.
const (
	CheckAddressing   = "addressing"
	CheckJurisdiction = "jurisdiction"
	CheckClaimValue   = "claim_value"
	CheckDataComplete = "data_complete"
	CheckGrammar      = "grammar"
	CheckCitations    = "citations"
)

// checkInput is the read-only snapshot every check sees. Checks never write.
type checkInput struct {
	artifact      *model.Artifact
	record        *model.CaseRecord
	benefitMonths int
}

// checkResult is one check's verdict.
type checkResult struct {
	name   string
	status model.CheckStatus
	issues []model.QualityIssue
}

// minimumWageByYear is the Brazilian national minimum wage in BRL. Claim
// values for rural maternity are a multiple of the wage in force at birth.
var minimumWageByYear = map[int]float64{
	2018: 954.00,
	2019: 998.00,
	2020: 1045.00,
	2021: 1100.00,
	2022: 1212.00,
	2023: 1320.00,
	2024: 1412.00,
	2025: 1518.00,
}

// claimValueRe matches "valor da causa" declarations like
// "valor da causa: R$ 5.648,00".
var claimValueRe = regexp.MustCompile(`(?i)valor\s+da\s+causa[^\d]*R\$\s*([\d.]+,\d{2})`)

// checkClaimValue verifies the declared claim value against the minimum
// wage in force for the benefit year times the benefit duration.
func checkClaimValue(_ context.Context, in *checkInput) checkResult {
	res := checkResult{name: CheckClaimValue, status: model.CheckPassed}

	m := claimValueRe.FindStringSubmatch(in.artifact.Content)
	if m == nil {
		res.status = model.CheckFailed
		res.issues = append(res.issues, model.QualityIssue{
			Check:    CheckClaimValue,
			Severity: model.SeverityHigh,
			Detail:   "valor da causa ausente na peça",
		})
		return res
	}

	declared, err := parseBRL(m[1])
	if err != nil {
		res.status = model.CheckFailed
		res.issues = append(res.issues, model.QualityIssue{
			Check:    CheckClaimValue,
			Severity: model.SeverityHigh,
			Detail:   fmt.Sprintf("valor da causa ilegível: %q", m[1]),
		})
		return res
	}

	year := benefitYear(in.record)
	wage, ok := minimumWageByYear[year]
	if !ok {
		res.status = model.CheckNotEvaluated
		return res
	}

	expected := wage * float64(in.benefitMonths)
	if diff := declared - expected; diff > 0.005 || diff < -0.005 {
		res.status = model.CheckFailed
		res.issues = append(res.issues, model.QualityIssue{
			Check:    CheckClaimValue,
			Severity: model.SeverityHigh,
			Detail: fmt.Sprintf("valor da causa R$ %.2f diverge do esperado R$ %.2f (%d x salário mínimo de %d)",
				declared, expected, in.benefitMonths, year),
		})
	}
	return res
}

// benefitYear picks the year whose minimum wage governs the claim: the
// child's birth year when known, otherwise the current year.
func benefitYear(rec *model.CaseRecord) int {
	if rec != nil && rec.ChildBirthDate != nil {
		if t, err := time.Parse("2006-01-02", *rec.ChildBirthDate); err == nil {
			return t.Year()
		}
	}
	return time.Now().Year()
}

// parseBRL converts "5.648,00" to 5648.00.
func parseBRL(s string) (float64, error) {
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

// placeholderPatterns are draft markers that must never survive into a
// filed document.
var placeholderPatterns = []string{
	"[[", "]]", "{{", "}}", "___", "XXXX", "A DEFINIR", "A PREENCHER", "????",
}

// checkDataComplete scans the artifact for unfilled placeholders and
// verifies the record fields the document depends on are populated.
func checkDataComplete(_ context.Context, in *checkInput) checkResult {
	res := checkResult{name: CheckDataComplete, status: model.CheckPassed}

	upper := strings.ToUpper(in.artifact.Content)
	for _, p := range placeholderPatterns {
		if strings.Contains(upper, p) {
			res.status = model.CheckFailed
			res.issues = append(res.issues, model.QualityIssue{
				Check:    CheckDataComplete,
				Severity: model.SeverityHigh,
				Detail:   fmt.Sprintf("marcador de rascunho %q presente na peça", p),
			})
		}
	}

	if in.record != nil {
		required := map[string]*string{
			"nome da parte autora": in.record.ClaimantName,
			"CPF":                  in.record.CPF,
			"endereço":             in.record.Address,
		}
		for label, v := range required {
			if v == nil || strings.TrimSpace(*v) == "" {
				res.status = model.CheckFailed
				res.issues = append(res.issues, model.QualityIssue{
					Check:    CheckDataComplete,
					Severity: model.SeverityMedium,
					Detail:   fmt.Sprintf("dado consolidado ausente: %s", label),
				})
			}
		}
	}
	return res
}
