package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports JSON field names and knows the
// "fieldname" rule for record property keys.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("fieldname", func(fl validator.FieldLevel) bool {
		return model.ValidFieldName(fl.Field().String())
	})
	return v
}

func validateStruct(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "invalid request")
	}
	ve := apperrors.NewValidationError("request validation failed", nil)
	for _, fe := range verrs {
		ve.AddField(fieldPath(fe.Namespace()), describe(fe), fe.Value())
	}
	return ve
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "fieldname":
		return "is not a usable field name"
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func checkPropertyNames(props model.Properties) error {
	var ve *apperrors.ValidationError
	for _, name := range props.Names() {
		if model.ValidFieldName(name) {
			continue
		}
		if ve == nil {
			ve = apperrors.NewValidationError("record has unusable property names", nil)
		}
		ve.AddField(name, "is not a usable field name", nil)
	}
	if ve == nil {
		return nil
	}
	return ve
}
