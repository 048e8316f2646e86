package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sistem/judge/internal/cmdtemplate"
)

// Struct validator aware of config and table tag names
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	return cv.validator.Struct(i)
}

// Validates a single value against a tag, e.g. "cmdtemplate"
func (cv *CustomValidator) Var(field any, tag string) error {
	return cv.validator.Var(field, tag)
}

func Create() CustomValidator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, key := range []string{"mapstructure", "yaml", "json"} {
			name := strings.SplitN(field.Tag.Get(key), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return field.Name
	})

	// only fails for programmer error (duplicate tag / nil func)
	_ = validate.RegisterValidation("cmdtemplate", func(fl validator.FieldLevel) bool {
		return cmdtemplate.Validate(fl.Field().String()) == nil
	})

	return CustomValidator{validator: validate}
}
