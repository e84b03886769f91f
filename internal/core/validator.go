package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"quora/internal/types"
)

// Validator checks decoded request bodies against their `validate` tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator that reports fields by their JSON name.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct returns nil or an AppError listing each failing field and
// the rule it broke. A missing required field takes precedence in the
// error code.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidField, "invalid request", err)
	}

	code := types.ErrCodeValidationInvalidField
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		if fe.Tag() == "required" {
			code = types.ErrCodeValidationMissingField
		}
	}
	return types.NewAppErrorWithDetails(code, "request failed validation", err, map[string]any{"fields": fields})
}
