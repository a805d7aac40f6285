package validator

import (
	"testing"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/flexprice/lifecycle/internal/types"
	"github.com/stretchr/testify/assert"
)

type request struct {
	CustomerID string           `validate:"required"`
	WhenToBill types.WhenToBill `validate:"required,enum"`
}

func TestValidateRequest(t *testing.T) {
	err := ValidateRequest(request{CustomerID: "cust_1", WhenToBill: types.WhenToBillPayInAdvance})
	assert.NoError(t, err)

	err = ValidateRequest(request{CustomerID: "cust_1", WhenToBill: "sometimes"})
	assert.True(t, ierr.IsValidation(err))

	err = ValidateRequest(request{WhenToBill: types.WhenToBillPayInArrear})
	assert.True(t, ierr.IsValidation(err))
}
