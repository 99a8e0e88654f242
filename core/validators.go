package core

import (
	"reflect"
	"regexp"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"
)

var (
	// custom validation tags & texts
	alphaNumSpaceTag   = "alphanum_"
	alphaNumSpaceText  = "only alphanumeric characters, spaces and dashes are allowed"
	alphaNumSpaceRegex = regexp.MustCompile(`^[\w\s-]+$`)

	moneyTag   = "money"
	moneyText  = "{0} must have at most 2 decimal places"
	moneyPlace = int32(2)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// amounts are validated as float64 by the builtin tags (gt, gte, ...)
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumSpaceTag, alphaNumSpaceValidation)
	RegisterCustomTranslation(validate, translator, alphaNumSpaceTag, alphaNumSpaceText)

	_ = validate.RegisterValidation(moneyTag, moneyValidation)
	RegisterCustomTranslation(validate, translator, moneyTag, moneyText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

func decimalValue(v reflect.Value) interface{} {
	if d, ok := v.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// Custom Global Validators

// alphaNumSpaceValidation only allows alphanumeric characters, underscores, spaces and dashes.
func alphaNumSpaceValidation(fl validator.FieldLevel) bool {
	return alphaNumSpaceRegex.MatchString(fl.Field().String())
}

// moneyValidation rejects amounts with more than 2 decimal places.
// Decimal fields reach it as float64 through decimalValue.
func moneyValidation(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		return IsMoney(decimal.NewFromFloat(fl.Field().Float()))
	default:
		return false
	}
}

// IsMoney reports whether d has at most 2 decimal places.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyPlace))
}
