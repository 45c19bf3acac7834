package validation

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps validator/v10 and reports fields by their json names.
// It implements echo.Validator.
type Validator struct{ v *validator.Validate }

func (d *Validator) Validate(i interface{}) error {
	return d.v.Struct(i)
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Var validates a single value against tag.
func (d *Validator) Var(field interface{}, tag string) error {
	return d.v.Var(field, tag)
}
