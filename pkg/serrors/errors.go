package serrors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// BaseError is an error with a stable machine code, a message and an optional locale key.
type BaseError struct {
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	LocaleKey    string            `json:"locale_key,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func (e *BaseError) Error() string {
	return e.Message
}

// Is matches errors by code so that wrapped copies of a sentinel still compare equal.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

// WithTemplateData returns a copy of the error carrying the given template data.
func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	out := *e
	out.TemplateData = make(map[string]string, len(data))
	for k, v := range data {
		out.TemplateData[k] = v
	}
	return &out
}

// ValidationErrors maps a field name to its validation error.
type ValidationErrors map[string]*BaseError

func (v ValidationErrors) Error() string {
	fields := v.Fields()
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, v[f].Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the failing field names sorted alphabetically.
func (v ValidationErrors) Fields() []string {
	out := make([]string, 0, len(v))
	for f := range v {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Messages flattens the errors into field -> message.
func (v ValidationErrors) Messages() map[string]string {
	out := make(map[string]string, len(v))
	for f, e := range v {
		out[f] = e.Message
	}
	return out
}

func NewFieldRequiredError(field, localeKey string) *BaseError {
	return NewError("FIELD_REQUIRED", fmt.Sprintf("%s is required", field), localeKey).
		WithTemplateData(map[string]string{"field": field})
}

func NewFieldTooLongError(field string, max int, localeKey string) *BaseError {
	return NewError("FIELD_TOO_LONG", fmt.Sprintf("%s must be at most %d characters", field, max), localeKey).
		WithTemplateData(map[string]string{"field": field, "max": fmt.Sprint(max)})
}

func NewFieldInvalidError(field, reason, localeKey string) *BaseError {
	return NewError("FIELD_INVALID", fmt.Sprintf("%s %s", field, reason), localeKey).
		WithTemplateData(map[string]string{"field": field})
}

// ProcessValidatorErrors converts validator errors into BaseErrors keyed by struct field name.
func ProcessValidatorErrors(errs validator.ValidationErrors, localeKey func(field string) string) ValidationErrors {
	out := make(ValidationErrors, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		key := ""
		if localeKey != nil {
			key = localeKey(field)
		}
		switch fe.Tag() {
		case "required":
			out[field] = NewFieldRequiredError(field, key)
		case "max":
			n := 0
			_, _ = fmt.Sscanf(fe.Param(), "%d", &n)
			out[field] = NewFieldTooLongError(field, n, key)
		default:
			out[field] = NewFieldInvalidError(field, fmt.Sprintf("failed %q validation", fe.Tag()), key)
		}
	}
	return out
}
