package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

var (
	once     sync.Once
	validate *validator.Validate

	nicknamePattern  = regexp.MustCompile(`^[ㄱ-ㅎ가-힣a-z0-9_-]{3,20}$`)
	studyPathPattern = regexp.MustCompile(`^[ㄱ-ㅎ가-힣a-z0-9_-]{2,20}$`)
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// FieldErrors converts validation failures into client facing field messages.
func (v ValidationErrors) FieldErrors() []apperrors.FieldError {
	fields := make([]apperrors.FieldError, 0, len(v))
	for _, failure := range v {
		fields = append(fields, apperrors.Field(failure.Field, failure.Message()))
	}
	return fields
}

// Message renders a human readable description of the failure.
func (v ValidationError) Message() string {
	switch v.Tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", v.Param)
	case "max":
		return fmt.Sprintf("must be at most %s characters", v.Param)
	case "gte":
		return fmt.Sprintf("must be at least %s", v.Param)
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.ReplaceAll(v.Param, " ", ", "))
	case "eqfield":
		return fmt.Sprintf("must match %s", v.Param)
	case "nickname":
		return "must be 3-20 lowercase letters, digits, Hangul, '_' or '-'"
	case "studypath":
		return "must be 2-20 lowercase letters, digits, Hangul, '_' or '-'"
	case "url":
		return "must be a valid URL"
	case "uuid4":
		return "must be a valid UUID"
	default:
		if v.Param != "" {
			return fmt.Sprintf("failed validation: %s=%s", v.Tag, v.Param)
		}
		return fmt.Sprintf("failed validation: %s", v.Tag)
	}
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// AsAppError validates s and converts failures into a field level AppError.
func AsAppError(s interface{}) error {
	err := ValidateStruct(s)
	if err == nil {
		return nil
	}
	if ve, ok := err.(ValidationErrors); ok {
		return apperrors.NewValidation(ve.FieldErrors()...)
	}
	return apperrors.NewBadRequest(err.Error())
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// IsNickname reports whether value satisfies the nickname rule.
func IsNickname(value string) bool {
	return nicknamePattern.MatchString(value)
}

// IsStudyPath reports whether value satisfies the study path rule.
func IsStudyPath(value string) bool {
	return studyPathPattern.MatchString(value)
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
			return IsNickname(fl.Field().String())
		})
		_ = validate.RegisterValidation("studypath", func(fl validator.FieldLevel) bool {
			return IsStudyPath(fl.Field().String())
		})
	})
	return validate
}
