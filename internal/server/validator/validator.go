// Package validator configures gin's binding validator and flattens its
// errors into field-keyed messages for problem responses.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var trans ut.Translator

// InitValidator registers json tag names and English translations on the
// binding engine. Call once before routes are mounted.
func InitValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ = uni.GetTranslator("en")

	_ = en_translations.RegisterDefaultTranslations(v, trans)
}

// ParseValidationError turns a binding failure into a field -> message map
// keyed by json name, with the root struct prefix stripped. Anything that is
// not a field-level validation error maps to a single "body" entry.
func ParseValidationError(err error) map[string]string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"body": "request body is not valid JSON"}
	}

	errMap := make(map[string]string, len(fieldErrs))
	for _, e := range fieldErrs {
		field := e.Namespace()
		if i := strings.Index(field, "."); i != -1 {
			field = field[i+1:]
		}

		msg := e.Translate(trans)
		if e.Tag() == "oneof" {
			msg = fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(e.Param(), " ", ", "))
		}

		errMap[field] = msg
	}
	return errMap
}
