package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldMap_UnknownKeysPreservedInExtra(t *testing.T) {
	raw := `{
		"claimant_name": "Maria da Silva",
		"numero_beneficio": "42-1",
		"observacao_do_cartorio": {"livro": "B-12"},
		"campo_nulo": null
	}`

	var f FieldMap
	require.NoError(t, json.Unmarshal([]byte(raw), &f))

	require.NotNil(t, f.ClaimantName)
	assert.Equal(t, "Maria da Silva", *f.ClaimantName)
	assert.Equal(t, "42-1", f.Extra["numero_beneficio"])
	assert.Equal(t, map[string]any{"livro": "B-12"}, f.Extra["observacao_do_cartorio"])
	// Nulls are "not observed", never preserved.
	assert.NotContains(t, f.Extra, "campo_nulo")
}

func TestFieldMap_MarshalReinlinesExtra(t *testing.T) {
	f := FieldMap{
		CPF:   strp("123.456.789-00"),
		Extra: map[string]any{"numero_beneficio": "42-1"},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var round FieldMap
	require.NoError(t, json.Unmarshal(data, &round))
	require.NotNil(t, round.CPF)
	assert.Equal(t, "123.456.789-00", *round.CPF)
	assert.Equal(t, "42-1", round.Extra["numero_beneficio"])
}

func TestFieldMap_SidecarKeysNotTreatedAsExtra(t *testing.T) {
	raw := `{"cpf": "123", "missing_fields": ["rg"], "observations": "borrado"}`

	var f FieldMap
	require.NoError(t, json.Unmarshal([]byte(raw), &f))

	assert.NotContains(t, f.Extra, "missing_fields")
	assert.NotContains(t, f.Extra, "observations")
}

func TestFieldMap_AbsentVersusEmpty(t *testing.T) {
	var absent FieldMap
	require.NoError(t, json.Unmarshal([]byte(`{}`), &absent))
	assert.Nil(t, absent.ClaimantName)
	assert.Nil(t, absent.HasPriorRequest)

	var observed FieldMap
	require.NoError(t, json.Unmarshal([]byte(`{"claimant_name": "", "has_prior_request": false}`), &observed))
	require.NotNil(t, observed.ClaimantName)
	assert.Empty(t, *observed.ClaimantName)
	require.NotNil(t, observed.HasPriorRequest)
	assert.False(t, *observed.HasPriorRequest)
}

func TestCollectionKeys(t *testing.T) {
	assert.Equal(t, "2015-01-01|2020-12-31",
		RuralPeriod{StartDate: "2015-01-01", EndDate: "2020-12-31", Location: "ignorada"}.Key())
	assert.Equal(t, "2010-02-01|2012-05-31|Fazenda Santa Fé",
		UrbanPeriod{StartDate: "2010-02-01", EndDate: "2012-05-31", Employer: "Fazenda Santa Fé"}.Key())
	assert.Equal(t, "João|cônjuge", FamilyMember{Name: "João", Relationship: "cônjuge"}.Key())
	assert.Equal(t, "salário-maternidade|2021-03-01",
		PriorBenefit{BenefitType: "salário-maternidade", RequestDate: "2021-03-01"}.Key())
}

func strp(s string) *string { return &s }
