// Package classifier maps uploaded file names to document-type tags using
// ordered heuristic rules. Classification is a pure function: no I/O, same
// input always yields the same tag. The caller persists the tag.
package classifier

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/previdia/case-pipeline/internal/model"
)

// rule maps filename keywords to a document type. Rules are evaluated in
// order; the first rule with any matching keyword wins, so more specific
// patterns must come before generic ones.
type rule struct {
	docType  model.DocumentType
	keywords []string
}

// rules is the ordered pattern table. Keywords are matched against the
// lowercased, diacritic-stripped file name, so "procuração" and
// "procuracao" both hit the power-of-attorney rule.
var rules = []rule{
	{model.DocTypePowerOfAttorney, []string{"procuracao", "power of attorney", "poa"}},
	{model.DocTypeRuralSelfDeclaration, []string{"autodeclaracao", "auto declaracao", "auto-declaracao", "declaracao rural", "segurado especial"}},
	{model.DocTypeUnionDeclaration, []string{"sindicato", "sindical", "declaracao do sindicato"}},
	{model.DocTypeBirthCertificate, []string{"certidao de nascimento", "nascimento"}},
	{model.DocTypeMarriageCertificate, []string{"certidao de casamento", "casamento"}},
	{model.DocTypeLandRecord, []string{"itr", "ccir", "incra", "contrato de arrendamento", "comodato", "matricula do imovel"}},
	{model.DocTypeCNISStatement, []string{"cnis", "extrato previdenciario"}},
	{model.DocTypePriorRequest, []string{"requerimento administrativo", "indeferimento", "comunicado de decisao"}},
	{model.DocTypeMedicalRecord, []string{"prontuario", "atestado medico", "laudo", "cartao gestante", "pre natal", "pre-natal"}},
	{model.DocTypeProofOfResidence, []string{"comprovante de residencia", "conta de luz", "conta de agua", "fatura de energia"}},
	{model.DocTypeIdentityDocument, []string{"rg", "cpf", "cnh", "identidade", "carteira de trabalho", "ctps", "titulo de eleitor"}},
}

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases and strips diacritics for rule matching. Shared with
// the validation gate's synonym suppression.
func Normalize(s string) string {
	out, _, err := transform.String(stripDiacritics, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// separatorRepl folds filename separators into spaces so multi-word
// keywords match names like "comprovante_de_residencia.pdf".
var separatorRepl = strings.NewReplacer("_", " ", "-", " ", ".", " ")

// Classify returns the document-type tag for a file name. Total: unmatched
// names fall through to DocTypeOther.
func Classify(fileName string) model.DocumentType {
	name := separatorRepl.Replace(Normalize(fileName))
	for _, r := range rules {
		for _, kw := range r.keywords {
			if matchKeyword(name, kw) {
				return r.docType
			}
		}
	}
	return model.DocTypeOther
}

// matchKeyword reports whether kw occurs in name on word boundaries.
// Substring matching alone would tag "energia.pdf" as identity via "rg".
func matchKeyword(name, kw string) bool {
	idx := 0
	for {
		i := strings.Index(name[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(rune(name[start-1]))
		afterOK := end == len(name) || !isWordChar(rune(name[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
}
