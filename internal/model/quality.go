package model

import "time"

// Artifact is a generated downstream document (e.g. a drafted petition)
// kept under optimistic versioning. The pipeline's only write to it is the
// Stale flag; the quality loop rewrites Content via versioned updates.
type Artifact struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckStatus is the outcome of one quality check.
type CheckStatus string

const (
	CheckPassed CheckStatus = "passed"
	CheckFailed CheckStatus = "failed"
	// CheckNotEvaluated means the check's underlying call failed (timeout,
	// rate limit). It is excluded from the approval classification and must
	// never count as passed.
	CheckNotEvaluated CheckStatus = "not_evaluated"
)

// IssueSeverity grades a detected defect.
type IssueSeverity string

const (
	SeverityHigh   IssueSeverity = "high"
	SeverityMedium IssueSeverity = "medium"
	SeverityLow    IssueSeverity = "low"
)

// QualityIssue is one defect detected by a check.
type QualityIssue struct {
	Check    string        `json:"check"`
	Severity IssueSeverity `json:"severity"`
	Detail   string        `json:"detail"`
}

// QualityStatus is the terminal state of the quality loop for an artifact.
type QualityStatus string

const (
	QualityApproved             QualityStatus = "approved"
	QualityAutoCorrected        QualityStatus = "auto_corrected"
	QualityApprovedWithWarnings QualityStatus = "approved_with_warnings"
)

// QualityReport is the per-artifact outcome of the quality loop. Replaced
// whole on each run; corrections are kept separately as append-only history.
type QualityReport struct {
	ArtifactID           string         `json:"artifact_id"`
	CaseID               string         `json:"case_id"`
	AddressingOK         bool           `json:"addressing_ok"`
	JurisdictionOK       bool           `json:"jurisdiction_ok"`
	ClaimValueValidated  bool           `json:"value_of_claim_validated"`
	DataComplete         bool           `json:"data_complete"`
	GrammarOK            bool           `json:"grammar_ok"`
	CitationsValidated   bool           `json:"citations_validated"`
	Issues               []QualityIssue `json:"issues,omitempty"`
	Status               QualityStatus  `json:"status"`
	ChecksNotEvaluated   []string       `json:"checks_not_evaluated,omitempty"`
	EvaluatedAt          time.Time      `json:"evaluated_at"`
}

// CorrectionEntry is one applied correction, kept for audit. Append-only.
type CorrectionEntry struct {
	ID            string    `json:"id"`
	ArtifactID    string    `json:"artifact_id"`
	Check         string    `json:"check"`
	BeforeExcerpt string    `json:"before_excerpt"`
	AfterExcerpt  string    `json:"after_excerpt"`
	Confidence    float64   `json:"confidence"`
	AutoApplied   bool      `json:"auto_applied"`
	AppliedAt     time.Time `json:"applied_at"`
}
