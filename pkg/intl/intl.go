package intl

import (
	"context"
	"errors"
	"sync"

	"github.com/go-playground/locales/ar"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	artranslations "github.com/go-playground/validator/v10/translations/ar"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"golang.org/x/text/language"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/constants"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

type SupportedLanguage struct {
	Code        string
	VerboseName string
	Tag         language.Tag
}

var allSupportedLanguages = []SupportedLanguage{
	{Code: "en", VerboseName: "English", Tag: language.English},
	{Code: "ar", VerboseName: "العربية", Tag: language.Arabic},
}

// GetSupportedLanguages filters the known languages by code. An empty
// whitelist returns all of them.
func GetSupportedLanguages(whitelist []string) []SupportedLanguage {
	if len(whitelist) == 0 {
		return allSupportedLanguages
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, code := range whitelist {
		allowed[code] = true
	}
	filtered := make([]SupportedLanguage, 0, len(whitelist))
	for _, lang := range allSupportedLanguages {
		if allowed[lang.Code] {
			filtered = append(filtered, lang)
		}
	}
	return filtered
}

func Tags(langs []SupportedLanguage) []language.Tag {
	tags := make([]language.Tag, len(langs))
	for i, l := range langs {
		tags[i] = l.Tag
	}
	return tags
}

// MatchAcceptLanguage picks the best supported tag for an Accept-Language
// header, falling back to the first supported tag.
func MatchAcceptLanguage(header string, supported []language.Tag) language.Tag {
	if len(supported) == 0 {
		return language.English
	}
	candidates, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(candidates) == 0 {
		return supported[0]
	}
	_, idx, _ := language.NewMatcher(supported).Match(candidates...)
	return supported[idx]
}

func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, constants.LocaleKey, tag)
}

// UseLocale returns the request locale, English when none was set.
func UseLocale(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(constants.LocaleKey).(language.Tag); ok {
		return tag
	}
	return language.English
}

var translators = sync.OnceValues(func() (*ut.UniversalTranslator, error) {
	enLocale, arLocale := en.New(), ar.New()
	uni := ut.New(enLocale, enLocale, arLocale)

	enTrans, _ := uni.GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(constants.Validate, enTrans); err != nil {
		return nil, err
	}
	arTrans, _ := uni.GetTranslator("ar")
	if err := artranslations.RegisterDefaultTranslations(constants.Validate, arTrans); err != nil {
		return nil, err
	}
	return uni, nil
})

// Translator returns the validator translator for tag's base language.
func Translator(tag language.Tag) (ut.Translator, error) {
	uni, err := translators()
	if err != nil {
		return nil, err
	}
	base, _ := tag.Base()
	trans, _ := uni.GetTranslator(base.String())
	return trans, nil
}

// LocalizeValidation turns validator output into serrors.ValidationErrors.
// English keeps the terse built-in reasons; other locales use the
// translated validator messages. Non-validator errors pass through.
func LocalizeValidation(ctx context.Context, err error) error {
	var verrs validator.ValidationErrors
	if err == nil || !errors.As(err, &verrs) {
		return err
	}
	tag := UseLocale(ctx)
	if base, _ := tag.Base(); base.String() == "en" {
		return serrors.ProcessValidatorErrors(verrs, nil)
	}
	trans, terr := Translator(tag)
	if terr != nil {
		return serrors.ProcessValidatorErrors(verrs, nil)
	}
	out := make(serrors.ValidationErrors, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(trans)
	}
	return out
}
