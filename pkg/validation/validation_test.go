package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type colegiadoProbe struct {
	Numero string `json:"numero" validate:"omitempty,colegiado"`
}

func TestColegiadoTag(t *testing.T) {
	valid := []string{"12345", "COL12345", "M1234567", "1234567AB", "abc123456"}
	for _, n := range valid {
		errs, err := Validate(colegiadoProbe{Numero: n})
		assert.NoError(t, err)
		assert.Nil(t, errs, "expected %q to validate", n)
	}

	invalid := []string{"!!", "ICAM1", "ABCD12345", "12", "12345678901234567890"}
	for _, n := range invalid {
		errs, err := Validate(colegiadoProbe{Numero: n})
		assert.NoError(t, err)
		assert.NotNil(t, errs, "expected %q to fail", n)
	}

	// Empty passes; omitempty/required decide separately.
	errs, err := Validate(colegiadoProbe{})
	assert.NoError(t, err)
	assert.Nil(t, errs)
}

type fieldNameProbe struct {
	EmailAddr string `json:"email" validate:"required,email"`
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	errs, err := Validate(fieldNameProbe{EmailAddr: "nope"})
	assert.NoError(t, err)
	assert.Contains(t, errs, "email")
	assert.NotContains(t, errs, "EmailAddr")
}
