package extract

import (
	"fmt"
	"strings"

	"github.com/previdia/case-pipeline/internal/model"
)

// systemPrompt sets the extraction contract: one JSON object, pt-BR field
// values, null for anything not legible in the documents.
const systemPrompt = `Você é um assistente jurídico especializado em direito previdenciário rural brasileiro.
Sua tarefa é extrair dados estruturados de documentos digitalizados de um processo.

Regras:
- Responda com UM ÚNICO objeto JSON, sem texto antes ou depois.
- Use null para qualquer campo que não conste nos documentos ou esteja ilegível. Nunca invente valores.
- Datas no formato YYYY-MM-DD. Datas parciais (só ano) como YYYY-01-01 com observação.
- Transcreva nomes exatamente como escritos, inclusive abreviações.
- CPF no formato XXX.XXX.XXX-XX quando presente.

Esquema do objeto de resposta:
{
  "claimant_name": string|null,
  "cpf": string|null,
  "rg": string|null,
  "nit": string|null,
  "birth_date": string|null,
  "marital_status": string|null,
  "profession": string|null,
  "address": string|null,
  "city": string|null,
  "state": string|null,
  "mother_name": string|null,
  "father_name": string|null,
  "spouse_name": string|null,
  "child_name": string|null,
  "child_birth_date": string|null,
  "rural_periods": [{"start_date", "end_date", "location", "cohabitants": [string], "activities": [string]}],
  "urban_periods": [{"start_date", "end_date", "employer", "role"}],
  "family_members": [{"name", "relationship", "birth_date", "cpf"}],
  "prior_benefits": [{"benefit_type", "protocol", "request_date", "status"}],
  "health_declaration": object|null,
  "has_prior_request": boolean|null,
  "missing_fields": [string],
  "observations": string
}

Liste em missing_fields os campos esperados para os tipos de documento recebidos que não puderam ser extraídos.
Use observations para ressalvas de legibilidade ou inconsistências entre documentos.`

// typeInstructions gives the model type-specific extraction hints. Types
// without an entry get no extra block.
var typeInstructions = map[model.DocumentType]string{
	model.DocTypePowerOfAttorney:     "Procuração: extraia nome completo, CPF, RG, estado civil, profissão e endereço do outorgante.",
	model.DocTypeBirthCertificate:    "Certidão de nascimento: extraia nome da criança, data de nascimento, nome da mãe e do pai, e o município de registro.",
	model.DocTypeMarriageCertificate: "Certidão de casamento: extraia nomes dos cônjuges, data do casamento e profissões declaradas.",
	model.DocTypeRuralSelfDeclaration: "Autodeclaração rural: extraia todos os períodos de atividade rural com datas de início e fim, " +
		"o local (sítio, fazenda, município), membros do grupo familiar e as atividades exercidas.",
	model.DocTypeLandRecord:      "Documento de terra (ITR/CCIR/INCRA): extraia o nome do titular, a área, o município e o número de inscrição.",
	model.DocTypeUnionDeclaration: "Declaração de sindicato: extraia os períodos de atividade homologados e o nome do sindicato.",
	model.DocTypeCNISStatement: "Extrato CNIS: extraia o NIT, todos os vínculos urbanos com datas e empregadores, " +
		"e todos os benefícios ou requerimentos anteriores com protocolo e situação.",
	model.DocTypeMedicalRecord:   "Prontuário médico: extraia datas de atendimento, o município do atendimento e gestações registradas.",
	model.DocTypeIdentityDocument: "Documento de identidade: extraia nome, RG, CPF, data de nascimento e filiação.",
	model.DocTypeProofOfResidence: "Comprovante de residência: extraia o endereço completo, município e UF.",
	model.DocTypePriorRequest:    "Requerimento administrativo: extraia o protocolo, a data do requerimento, o benefício pedido e a decisão.",
}

// typeLabels maps document types to their pt-BR names for prompt manifests.
var typeLabels = map[model.DocumentType]string{
	model.DocTypePowerOfAttorney:      "procuração",
	model.DocTypeBirthCertificate:     "certidão de nascimento",
	model.DocTypeMarriageCertificate:  "certidão de casamento",
	model.DocTypeRuralSelfDeclaration: "autodeclaração rural",
	model.DocTypeLandRecord:           "documento de terra",
	model.DocTypeUnionDeclaration:     "declaração de sindicato",
	model.DocTypeCNISStatement:        "extrato CNIS",
	model.DocTypeMedicalRecord:        "prontuário médico",
	model.DocTypeIdentityDocument:     "documento de identidade",
	model.DocTypeProofOfResidence:     "comprovante de residência",
	model.DocTypePriorRequest:         "requerimento administrativo",
	model.DocTypeOther:                "documento não classificado",
}

func typeLabel(t model.DocumentType) string {
	if label, ok := typeLabels[t]; ok {
		return label
	}
	return string(t)
}

// buildUserPrompt assembles the per-batch user message: the document
// manifest plus one instruction block per distinct document type present.
func buildUserPrompt(manifest string, batch []model.Document) string {
	var sb strings.Builder
	sb.WriteString("Extraia os dados estruturados dos documentos anexados.\n\n")
	sb.WriteString(manifest)

	seen := map[model.DocumentType]bool{}
	var instructions []string
	for _, doc := range batch {
		if seen[doc.Type] {
			continue
		}
		seen[doc.Type] = true
		if inst, ok := typeInstructions[doc.Type]; ok {
			instructions = append(instructions, inst)
		}
	}
	if len(instructions) > 0 {
		sb.WriteString("\nInstruções por tipo de documento:\n")
		for _, inst := range instructions {
			fmt.Fprintf(&sb, "- %s\n", inst)
		}
	}
	return sb.String()
}
