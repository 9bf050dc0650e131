package quality

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/previdia/case-pipeline/internal/classifier"
	"github.com/previdia/case-pipeline/internal/model"
)

// Deterministic corrections. Defects whose right answer is computable from
// the consolidated record are rewritten in place; only wording defects go
// to the model.

// correctClaimValue rewrites the declared claim value from the minimum-wage
// table. Not applicable when the declaration is absent or the wage year is
// unknown; those stay in the report.
func correctClaimValue(content string, rec *model.CaseRecord, benefitMonths int) (string, correctionExcerpt, bool) {
	m := claimValueRe.FindStringSubmatch(content)
	if m == nil {
		return content, correctionExcerpt{}, false
	}
	wage, ok := minimumWageByYear[benefitYear(rec)]
	if !ok {
		return content, correctionExcerpt{}, false
	}
	want := formatBRL(wage * float64(benefitMonths))
	if m[1] == want {
		return content, correctionExcerpt{}, false
	}

	fixed := strings.Replace(content, m[0], strings.Replace(m[0], m[1], want, 1), 1)
	ex := correctionExcerpt{
		Check:  CheckClaimValue,
		Before: "R$ " + m[1],
		After:  "R$ " + want,
	}
	return fixed, ex, true
}

// placeholderFieldRe matches labeled draft markers like [[NOME]] or {{CPF}}.
var placeholderFieldRe = regexp.MustCompile(`\[\[[^\[\]]+\]\]|\{\{[^{}]+\}\}`)

// fillPlaceholders replaces labeled markers whose label names a field the
// record already carries. Unlabeled markers (___, XXXX) and unknown labels
// stay put, so the completeness check keeps failing on them.
func fillPlaceholders(content string, rec *model.CaseRecord) (string, []correctionExcerpt, bool) {
	if rec == nil {
		return content, nil, false
	}

	var excerpts []correctionExcerpt
	out := placeholderFieldRe.ReplaceAllStringFunc(content, func(marker string) string {
		label := strings.Trim(marker, "[]{} ")
		v := recordFieldFor(label, rec)
		if v == nil || strings.TrimSpace(*v) == "" {
			return marker
		}
		excerpts = append(excerpts, correctionExcerpt{
			Check:  CheckDataComplete,
			Before: marker,
			After:  *v,
		})
		return *v
	})
	return out, excerpts, len(excerpts) > 0
}

// recordFieldFor resolves a placeholder label to a consolidated field.
func recordFieldFor(label string, rec *model.CaseRecord) *string {
	norm := classifier.Normalize(label)
	switch {
	case strings.Contains(norm, "cpf"):
		return rec.CPF
	case strings.Contains(norm, "endereco"):
		return rec.Address
	case strings.Contains(norm, "nome"), strings.Contains(norm, "autora"):
		return rec.ClaimantName
	}
	return nil
}

// formatBRL renders 5280.0 as "5.280,00".
func formatBRL(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return b.String() + "," + frac
}
