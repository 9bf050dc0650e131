package model

import "time"

// DocumentType tags an uploaded document with its legal category.
type DocumentType string

const (
	DocTypePowerOfAttorney      DocumentType = "power_of_attorney"
	DocTypeBirthCertificate     DocumentType = "birth_certificate"
	DocTypeMarriageCertificate  DocumentType = "marriage_certificate"
	DocTypeRuralSelfDeclaration DocumentType = "rural_self_declaration"
	DocTypeLandRecord           DocumentType = "land_record"
	DocTypeUnionDeclaration     DocumentType = "union_declaration"
	DocTypeCNISStatement        DocumentType = "cnis_statement"
	DocTypeMedicalRecord        DocumentType = "medical_record"
	DocTypeIdentityDocument     DocumentType = "identity_document"
	DocTypeProofOfResidence     DocumentType = "proof_of_residence"
	DocTypePriorRequest         DocumentType = "prior_request"
	DocTypeOther                DocumentType = "other"
)

// Document is one uploaded artifact belonging to a case. The type tag is
// mutable (set by the classifier or by manual override); everything else is
// fixed at upload time. Documents are never deleted by the pipeline.
type Document struct {
	ID         string       `json:"id"`
	CaseID     string       `json:"case_id"`
	Path       string       `json:"path"`
	MimeType   string       `json:"mime_type"`
	FileName   string       `json:"file_name"`
	Type       DocumentType `json:"type"`
	ParentID   string       `json:"parent_id,omitempty"`
	SizeBytes  int64        `json:"size_bytes"`
	UploadedAt time.Time    `json:"uploaded_at"`
}
