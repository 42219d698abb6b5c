package httputil

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
	"github.com/dispatchrx/dispatchrx-backend/pkg/i18n"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/tr"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	tr_translations "github.com/go-playground/validator/v10/translations/tr"
)

var (
	validatorOnce sync.Once
	validate      *validator.Validate
	universal     *ut.UniversalTranslator
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		enLoc := en.New()
		universal = ut.New(enLoc, enLoc, tr.New())

		validate = validator.New(validator.WithRequiredStructEnabled())

		// report json names so details match the request body
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})

		enTrans, _ := universal.GetTranslator(i18n.LocaleEnglish)
		trTrans, _ := universal.GetTranslator(i18n.LocaleTurkish)
		_ = en_translations.RegisterDefaultTranslations(validate, enTrans)
		_ = tr_translations.RegisterDefaultTranslations(validate, trTrans)
	})
	return validate
}

func translator(ctx context.Context) ut.Translator {
	validatorInstance()
	trans, found := universal.GetTranslator(i18n.GetLocaleFromContext(ctx))
	if !found {
		trans, _ = universal.GetTranslator(i18n.DefaultLocale)
	}
	return trans
}

// Validate validates a struct using go-playground/validator. Details are
// keyed by the JSON path of the field and worded in the request locale.
func Validate(ctx context.Context, v interface{}) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errors.BadRequest(err.Error())
	}

	trans := translator(ctx)
	details := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		details[fieldPath(e)] = e.Translate(trans)
	}
	return errors.Validation(details)
}

// fieldPath drops the struct name from the namespace: lines[0].gtin
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// RegisterCustomValidation registers a custom validation tag with its
// message per locale. "{0}" in a message is replaced by the field name.
func RegisterCustomValidation(tag string, fn validator.Func, messages map[string]string) error {
	v := validatorInstance()
	if err := v.RegisterValidation(tag, fn); err != nil {
		return err
	}

	for locale, text := range messages {
		trans, found := universal.GetTranslator(locale)
		if !found {
			continue
		}
		text := text
		err := v.RegisterTranslation(tag, trans,
			func(ut ut.Translator) error {
				return ut.Add(tag, text, true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, err := ut.T(tag, fe.Field())
				if err != nil {
					return fe.Error()
				}
				return msg
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}
