// Package validation wraps go-playground/validator with the custom tags used
// by configuration and the admin API.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"cache-manager/internal/common/errors"
)

// MaxKeyLength bounds keys accepted through the admin API.
const MaxKeyLength = 512

// CentralizedValidator provides unified validation using go-playground/validator
type CentralizedValidator struct {
	validator *validator.Validate
}

// FieldError represents a single validation error with context
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// newCentralizedValidator creates the validator behind the package functions
func newCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	registerCacheValidators(v)

	// Report fields by environment variable name, then json name, then Go name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &CentralizedValidator{
		validator: v,
	}
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// ValidateVar validates a single variable with validation rules
func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// FieldErrors validates s and returns one entry per failed rule
func (cv *CentralizedValidator) FieldErrors(s interface{}) []FieldError {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	return cv.extractFieldErrors(err)
}

// formatValidationErrors converts go-playground/validator errors to internal errors
func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	fieldErrors := cv.extractFieldErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractFieldErrors(err error) []FieldError {
	var fieldErrors []FieldError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrs {
			fieldErrors = append(fieldErrors, FieldError{
				Field:   fieldError.Field(),
				Tag:     fieldError.Tag(),
				Value:   fmt.Sprintf("%v", fieldError.Value()),
				Message: formatFieldError(fieldError),
				Param:   fieldError.Param(),
			})
		}
	} else {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   "unknown",
			Tag:     "error",
			Message: err.Error(),
		})
	}

	return fieldErrors
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "unique":
		return fmt.Sprintf("field '%s' must not contain duplicates", err.Field())
	case "hostname_port":
		return fmt.Sprintf("field '%s' must be a host:port address", err.Field())
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid cron expression", err.Field())
	case "cache_key":
		return fmt.Sprintf("field '%s' must be a non-empty key without whitespace, at most %d bytes", err.Field(), MaxKeyLength)
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerCacheValidators(v *validator.Validate) {
	// Standard five field expressions plus descriptors such as @every 5m
	v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("cache_key", func(fl validator.FieldLevel) bool {
		key := fl.Field().String()
		if key == "" || len(key) > MaxKeyLength {
			return false
		}
		return strings.IndexFunc(key, unicode.IsSpace) < 0
	})
}

var globalValidator = newCentralizedValidator()

// ValidateStruct validates a struct using the global validator instance
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// ValidateVar validates a variable using the global validator instance
func ValidateVar(field interface{}, tag string) error {
	return globalValidator.ValidateVar(field, tag)
}

// FieldErrors validates s with the global validator instance
func FieldErrors(s interface{}) []FieldError {
	return globalValidator.FieldErrors(s)
}
