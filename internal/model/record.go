package model

import "time"

// CaseRecord is the single mutable projection of all extractions for a case.
// Scalar fields keep the first non-null value seen when extractions are
// folded in chronological order; collections accumulate with deduplication;
// derived booleans are monotonic (once true, always true).
type CaseRecord struct {
	CaseID string `json:"case_id"`

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

	HasPriorRequest bool `json:"has_prior_request"`

	// Anomalies records data-quality flags raised during merge, e.g. a
	// child name equal to the mother name.
	Anomalies []string `json:"anomalies,omitempty"`

	// Extra holds extracted keys with no schema slot.
	Extra map[string]any `json:"extra,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewCaseRecord returns the all-null starting record consolidation folds into.
func NewCaseRecord(caseID string) *CaseRecord {
	return &CaseRecord{CaseID: caseID}
}

// LegalProfile selects the required-document checklist for a case.
type LegalProfile string

const (
	ProfileRuralMaternity  LegalProfile = "rural_maternity"
	ProfileRuralRetirement LegalProfile = "rural_retirement"
)
