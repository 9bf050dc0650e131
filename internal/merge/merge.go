// Package merge is the field merge engine: it folds partial field-maps from
// extractions into the canonical case record under per-field policies
// declared once as data. Policies: scalars keep the first non-null value
// (earliest source wins when callers feed extractions in chronological
// order), collections append with deduplication by composite key, nested
// objects shallow-merge, derived booleans are monotonic.
package merge

import (
	"strings"

	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/classifier"
	"github.com/previdia/case-pipeline/internal/model"
)

// scalarRule binds one scalar field to its slots on both sides. Adding a
// scalar field means adding one row here; the first-non-null policy is
// applied uniformly.
type scalarRule struct {
	key string
	src func(*model.FieldMap) *string
	dst func(*model.CaseRecord) **string
}

var scalarRules = []scalarRule{
	{"claimant_name", func(f *model.FieldMap) *string { return f.ClaimantName }, func(r *model.CaseRecord) **string { return &r.ClaimantName }},
	{"cpf", func(f *model.FieldMap) *string { return f.CPF }, func(r *model.CaseRecord) **string { return &r.CPF }},
	{"rg", func(f *model.FieldMap) *string { return f.RG }, func(r *model.CaseRecord) **string { return &r.RG }},
	{"nit", func(f *model.FieldMap) *string { return f.NIT }, func(r *model.CaseRecord) **string { return &r.NIT }},
	{"birth_date", func(f *model.FieldMap) *string { return f.BirthDate }, func(r *model.CaseRecord) **string { return &r.BirthDate }},
	{"marital_status", func(f *model.FieldMap) *string { return f.MaritalStatus }, func(r *model.CaseRecord) **string { return &r.MaritalStatus }},
	{"profession", func(f *model.FieldMap) *string { return f.Profession }, func(r *model.CaseRecord) **string { return &r.Profession }},
	{"address", func(f *model.FieldMap) *string { return f.Address }, func(r *model.CaseRecord) **string { return &r.Address }},
	{"city", func(f *model.FieldMap) *string { return f.City }, func(r *model.CaseRecord) **string { return &r.City }},
	{"state", func(f *model.FieldMap) *string { return f.State }, func(r *model.CaseRecord) **string { return &r.State }},
	{"mother_name", func(f *model.FieldMap) *string { return f.MotherName }, func(r *model.CaseRecord) **string { return &r.MotherName }},
	{"father_name", func(f *model.FieldMap) *string { return f.FatherName }, func(r *model.CaseRecord) **string { return &r.FatherName }},
	{"spouse_name", func(f *model.FieldMap) *string { return f.SpouseName }, func(r *model.CaseRecord) **string { return &r.SpouseName }},
	{"child_name", func(f *model.FieldMap) *string { return f.ChildName }, func(r *model.CaseRecord) **string { return &r.ChildName }},
	{"child_birth_date", func(f *model.FieldMap) *string { return f.ChildBirthDate }, func(r *model.CaseRecord) **string { return &r.ChildBirthDate }},
}

// AnomalyChildEqualsMother is recorded when an extraction reports the child
// name equal to the mother name, a known extractor confusion on birth
// certificates. The child name is nulled rather than accepted silently.
const AnomalyChildEqualsMother = "child_name equals mother_name; child_name discarded"

// Apply folds one partial field-map into the record in place.
func Apply(rec *model.CaseRecord, fields *model.FieldMap) {
	for _, rule := range scalarRules {
		dst := rule.dst(rec)
		if *dst != nil {
			continue
		}
		if v := rule.src(fields); v != nil && strings.TrimSpace(*v) != "" {
			val := *v
			*dst = &val
		}
	}

	rec.RuralPeriods = appendDedup(rec.RuralPeriods, fields.RuralPeriods)
	rec.UrbanPeriods = appendDedup(rec.UrbanPeriods, fields.UrbanPeriods)
	rec.FamilyMembers = appendDedup(rec.FamilyMembers, fields.FamilyMembers)
	rec.PriorBenefits = appendDedup(rec.PriorBenefits, fields.PriorBenefits)

	rec.HealthDeclaration = shallowMerge(rec.HealthDeclaration, fields.HealthDeclaration)

	// Monotonic OR: once any source signals a prior administrative request,
	// later extractions lacking the field cannot reset it.
	if fields.HasPriorRequest != nil && *fields.HasPriorRequest {
		rec.HasPriorRequest = true
	}
	if len(fields.PriorBenefits) > 0 {
		rec.HasPriorRequest = true
	}

	rec.Extra = shallowMerge(rec.Extra, fields.Extra)

	checkAnomalies(rec)
}

// keyed is any collection entry with a composite deduplication key.
type keyed interface {
	Key() string
}

// appendDedup appends src entries whose key is not already present. A
// period reported by several documents lands in the record exactly once.
func appendDedup[T keyed](dst, src []T) []T {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst))
	for _, e := range dst {
		seen[e.Key()] = struct{}{}
	}
	for _, e := range src {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		dst = append(dst, e)
	}
	return dst
}

// shallowMerge fills only keys absent in dst.
func shallowMerge(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}

// checkAnomalies nulls out values that fail cross-field sanity checks and
// flags them on the record.
func checkAnomalies(rec *model.CaseRecord) {
	if rec.ChildName == nil || rec.MotherName == nil {
		return
	}
	if classifier.Normalize(*rec.ChildName) != classifier.Normalize(*rec.MotherName) {
		return
	}
	zap.L().Warn("merge: data-quality anomaly",
		zap.String("case_id", rec.CaseID),
		zap.String("anomaly", AnomalyChildEqualsMother),
	)
	rec.ChildName = nil
	for _, a := range rec.Anomalies {
		if a == AnomalyChildEqualsMother {
			return
		}
	}
	rec.Anomalies = append(rec.Anomalies, AnomalyChildEqualsMother)
}
