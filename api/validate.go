package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/generic"
)

const notBlankTag = "notblank"

// newValidator returns a validator that reports JSON field names and
// compares decimals as numbers.
func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	return v
}

// validationError turns the first failed tag into a generic.ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	return generic.Invalid(fe.Field(), "%s", describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", notBlankTag:
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "datetime":
		return "must be a date formatted " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag() + " check"
}
