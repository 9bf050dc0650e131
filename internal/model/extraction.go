package model

import (
	"encoding/json"
	"time"
)

// RuralPeriod is one reported interval of rural activity. Two periods with
// the same (StartDate, EndDate) pair are the same period regardless of which
// extraction reported them.
type RuralPeriod struct {
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Location    string   `json:"location,omitempty"`
	Cohabitants []string `json:"cohabitants,omitempty"`
	Activities  []string `json:"activities,omitempty"`
}

// Key returns the deduplication key for the period.
func (p RuralPeriod) Key() string { return p.StartDate + "|" + p.EndDate }

// UrbanPeriod is one reported interval of urban (registered) employment.
type UrbanPeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Employer  string `json:"employer,omitempty"`
	Role      string `json:"role,omitempty"`
}

func (p UrbanPeriod) Key() string { return p.StartDate + "|" + p.EndDate + "|" + p.Employer }

// FamilyMember is one family-group entry reported by a document.
type FamilyMember struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	BirthDate    string `json:"birth_date,omitempty"`
	CPF          string `json:"cpf,omitempty"`
}

func (m FamilyMember) Key() string { return m.Name + "|" + m.Relationship }

// PriorBenefit is one prior administrative benefit entry (e.g. from CNIS).
type PriorBenefit struct {
	BenefitType string `json:"benefit_type"`
	Protocol    string `json:"protocol,omitempty"`
	RequestDate string `json:"request_date,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (b PriorBenefit) Key() string { return b.BenefitType + "|" + b.RequestDate }

// FieldMap is the structured payload extracted from one batch of documents.
// Every field is optional: an absent field means "not observed", which the
// merge engine treats differently from an observed empty value. Keys the
// extractor returns that have no schema slot land in Extra so nothing is
// silently dropped.
type FieldMap struct {
	ClaimantName   *string `json:"claimant_name,omitempty"`
	CPF            *string `json:"cpf,omitempty"`
	RG             *string `json:"rg,omitempty"`
	NIT            *string `json:"nit,omitempty"`
	BirthDate      *string `json:"birth_date,omitempty"`
	MaritalStatus  *string `json:"marital_status,omitempty"`
	Profession     *string `json:"profession,omitempty"`
	Address        *string `json:"address,omitempty"`
	City           *string `json:"city,omitempty"`
	State          *string `json:"state,omitempty"`
	MotherName     *string `json:"mother_name,omitempty"`
	FatherName     *string `json:"father_name,omitempty"`
	SpouseName     *string `json:"spouse_name,omitempty"`
	ChildName      *string `json:"child_name,omitempty"`
	ChildBirthDate *string `json:"child_birth_date,omitempty"`

	RuralPeriods  []RuralPeriod  `json:"rural_periods,omitempty"`
	UrbanPeriods  []UrbanPeriod  `json:"urban_periods,omitempty"`
	FamilyMembers []FamilyMember `json:"family_members,omitempty"`
	PriorBenefits []PriorBenefit `json:"prior_benefits,omitempty"`

	HealthDeclaration map[string]any `json:"health_declaration,omitempty"`

	HasPriorRequest *bool `json:"has_prior_request,omitempty"`

	Extra map[string]any `json:"-"`
}

// fieldMapKnownKeys lists the JSON keys with schema slots; anything else the
// model returns is preserved in Extra by UnmarshalJSON.
var fieldMapKnownKeys = map[string]struct{}{
	"claimant_name": {}, "cpf": {}, "rg": {}, "nit": {}, "birth_date": {},
	"marital_status": {}, "profession": {}, "address": {}, "city": {},
	"state": {}, "mother_name": {}, "father_name": {}, "spouse_name": {},
	"child_name": {}, "child_birth_date": {}, "rural_periods": {},
	"urban_periods": {}, "family_members": {}, "prior_benefits": {},
	"health_declaration": {}, "has_prior_request": {},
	"missing_fields": {}, "observations": {},
}

// UnmarshalJSON decodes the known schema and routes unknown keys into Extra.
func (f *FieldMap) UnmarshalJSON(data []byte) error {
	type alias FieldMap
	var known alias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FieldMap(known)
	for key, val := range raw {
		if _, ok := fieldMapKnownKeys[key]; ok {
			continue
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			continue
		}
		if v == nil {
			continue
		}
		if f.Extra == nil {
			f.Extra = map[string]any{}
		}
		f.Extra[key] = v
	}
	return nil
}

// MarshalJSON re-inlines Extra alongside the schema fields.
func (f FieldMap) MarshalJSON() ([]byte, error) {
	type alias FieldMap
	data, err := json.Marshal(alias(f))
	if err != nil {
		return nil, err
	}
	if len(f.Extra) == 0 {
		return data, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range f.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Extraction is one immutable AI-extraction result covering a batch of a
// case's documents. Consolidation only ever reads extractions, in
// ExtractedAt order; it never edits them.
type Extraction struct {
	ID            string    `json:"id"`
	CaseID        string    `json:"case_id"`
	DocumentIDs   []string  `json:"document_ids"`
	Fields        FieldMap  `json:"fields"`
	MissingFields []string  `json:"missing_fields,omitempty"`
	Observations  string    `json:"observations,omitempty"`
	ExtractedAt   time.Time `json:"extracted_at"`
}
