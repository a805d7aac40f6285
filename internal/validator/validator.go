package validator

import (
	"sync"

	ierr "github.com/flexprice/lifecycle/internal/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	initOnce sync.Once
)

// validatable is implemented by the enum types in internal/types
type validatable interface {
	Validate() error
}

func NewValidator() *validator.Validate {
	initOnce.Do(func() {
		validate = validator.New()
		// `enum` delegates to the type's own Validate method
		_ = validate.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
			v, ok := fl.Field().Interface().(validatable)
			if !ok {
				return false
			}
			return v.Validate() == nil
		})
	})
	return validate
}

func GetValidator() *validator.Validate {
	return NewValidator()
}

// ValidateRequest validates req and wraps failures as validation errors
func ValidateRequest(req interface{}) error {
	if err := GetValidator().Struct(req); err != nil {
		details := make(map[string]any)
		var validateErrs validator.ValidationErrors
		if ierr.As(err, &validateErrs) {
			for _, err := range validateErrs {
				details[err.Field()] = err.Error()
			}
		}
		return ierr.WithError(err).
			WithHint("Request validation failed").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	return nil
}
