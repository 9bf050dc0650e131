package model

import "time"

// ChecklistStatus is the evaluated state of one required-document item.
type ChecklistStatus string

const (
	ChecklistPresent    ChecklistStatus = "present"
	ChecklistMissing    ChecklistStatus = "missing"
	ChecklistIncomplete ChecklistStatus = "incomplete"
)

// ChecklistImportance weighs a required item in the sufficiency verdict.
type ChecklistImportance string

const (
	ImportanceEssential   ChecklistImportance = "essential"
	ImportanceRecommended ChecklistImportance = "recommended"
	ImportanceOptional    ChecklistImportance = "optional"
)

// ChecklistItem is one required-document entry evaluated against the
// uploaded document set.
type ChecklistItem struct {
	Item       DocumentType        `json:"item"`
	Label      string              `json:"label"`
	Status     ChecklistStatus     `json:"status"`
	Importance ChecklistImportance `json:"importance"`
}

// MissingDocument is one document the scorer still wants, annotated with
// why it matters. Items already on file are removed before the report is
// stored.
type MissingDocument struct {
	Type   DocumentType `json:"type"`
	Reason string       `json:"reason"`
	Impact string       `json:"impact"`
}

// ValidationReport is the latest sufficiency verdict for a case. It is
// replaced whole on every validation run.
type ValidationReport struct {
	CaseID           string            `json:"case_id"`
	Profile          LegalProfile      `json:"profile"`
	Score            float64           `json:"score"`
	IsSufficient     bool              `json:"is_sufficient"`
	Checklist        []ChecklistItem   `json:"checklist"`
	MissingDocuments []MissingDocument `json:"missing_documents"`
	Recommendations  string            `json:"recommendations,omitempty"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
}
