// Package validator checks decoded payloads against struct tags.
// This is part of the platform layer and contains no business logic.
package validator

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator so callers share one cached
// instance through dependency injection.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator. Nested structs are only checked when tagged.
func New() *Validator {
	return &Validator{
		v: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Struct validates s based on its `validate` tags.
func (val *Validator) Struct(s interface{}) error {
	return val.v.Struct(s)
}

// Fields lists the failing fields of a Struct error as "Namespace: tag".
// Other errors yield nil.
func Fields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Namespace()+": "+fe.Tag())
	}
	return out
}
