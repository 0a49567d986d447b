package serrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// BaseError is a coded error that can be matched with errors.Is against a sentinel
// created by NewError.
type BaseError struct {
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	LocaleKey    string            `json:"locale_key,omitempty"`
	TemplateData map[string]string `json:"-"`
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{Code: code, Message: message, LocaleKey: localeKey}
}

func (e *BaseError) Error() string {
	return e.Message
}

// Is matches any BaseError with the same code, so copies returned by
// WithTemplateData still satisfy errors.Is against the sentinel.
func (e *BaseError) Is(target error) bool {
	var other *BaseError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	cp := *e
	cp.TemplateData = data
	return &cp
}

var ErrValidation = NewError("VALIDATION_ERROR", "validation failed", "Errors.Validation")

// ValidationErrors maps a field name to a human readable reason.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ErrValidation.Message
	}
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, v[f]))
	}
	return fmt.Sprintf("%s (%s)", ErrValidation.Message, strings.Join(parts, "; "))
}

func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

func NewFieldRequiredError(field string) ValidationErrors {
	return ValidationErrors{field: "is required"}
}

// ProcessValidatorErrors converts validator output into field reasons. fieldName
// may rename struct fields; an empty return keeps the validator's field name.
func ProcessValidatorErrors(errs validator.ValidationErrors, fieldName func(string) string) ValidationErrors {
	out := make(ValidationErrors, len(errs))
	for _, fe := range errs {
		name := fe.Field()
		if fieldName != nil {
			if n := fieldName(name); n != "" {
				name = n
			}
		}
		out[name] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be >= " + fe.Param()
	case "max", "lte":
		return "must be <= " + fe.Param()
	case "latitude":
		return "must be a valid latitude"
	case "longitude":
		return "must be a valid longitude"
	case "uuid", "uuid4":
		return "must be a uuid"
	default:
		return "failed " + fe.Tag()
	}
}
