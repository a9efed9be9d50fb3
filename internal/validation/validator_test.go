package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	v := NewValidator()

	type req struct {
		Username string `json:"username" validate:"required,min=3,max=10"`
		Email    string `json:"email" validate:"email"`
		Count    int    `json:"count" validate:"min=1,max=100"`
	}

	assert.NoError(t, v.Validate(req{Username: "forester", Email: "a@b.se", Count: 5}))
	assert.NoError(t, v.Validate(&req{Username: "forester", Email: "", Count: 5}))

	err := v.Validate(req{Username: "", Count: 5})
	assert.ErrorContains(t, err, "required")

	err = v.Validate(req{Username: "ab", Count: 5})
	assert.ErrorContains(t, err, "minimum length")

	err = v.Validate(req{Username: "waytoolongname", Count: 5})
	assert.ErrorContains(t, err, "maximum length")

	err = v.Validate(req{Username: "forester", Email: "not-an-email", Count: 5})
	assert.ErrorContains(t, err, "email")

	err = v.Validate(req{Username: "forester", Count: 500})
	assert.ErrorContains(t, err, "maximum value")
}

func TestValidate_NonStruct(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.Validate("not a struct"))
}
