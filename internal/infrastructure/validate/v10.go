package validate

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// PlaygroundV10 Validator implementation using go-playground
type PlaygroundV10 struct {
	core  *validator.Validate
	trans ut.Translator
}

var _ Validator = &PlaygroundV10{}

// NewValidator create a Validator translating messages to locale ("en" or "zh")
func NewValidator(locale string) *PlaygroundV10 {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale, zh.New())
	trans, found := uni.GetTranslator(locale)
	if !found {
		trans, _ = uni.GetTranslator("en")
	}

	validate := validator.New()
	switch trans.Locale() {
	case "zh":
		zh_translations.RegisterDefaultTranslations(validate, trans)
	default:
		en_translations.RegisterDefaultTranslations(validate, trans)
	}
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if idx := strings.IndexByte(name, ','); idx >= 0 {
			name = name[:idx]
		}
		if name == "-" || name == "" {
			name = fld.Tag.Get("yaml")
			if name == "-" || name == "" {
				return ""
			}
		}
		return name
	})
	return &PlaygroundV10{
		core:  validate,
		trans: trans,
	}
}

// Struct validate struct
func (v PlaygroundV10) Struct(s interface{}) []*FieldError {
	var result []*FieldError
	if err := v.core.Struct(s); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []*FieldError{NewFieldError("", err.Error())}
		}
		for _, item := range verrs {
			result = append(result, NewFieldError(item.Namespace(), item.Translate(v.trans)))
		}
		return result
	}
	return nil
}

// Empty check if value is empty
func (v PlaygroundV10) Empty(varName string, s interface{}) []*FieldError {
	if err := v.core.Var(s, "required"); err != nil {
		return []*FieldError{NewFieldError(varName, fmt.Sprintf("%s is required", varName))}
	}
	return nil
}
