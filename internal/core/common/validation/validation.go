package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report json field names instead of Go field names
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Struct runs the `validate` tags of s and returns a 400 AppError listing
// every failing field.
func Struct(s interface{}) *internal.AppError {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).WithCause(err)
	}

	out := make([]internal.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, internal.ValidationError{
			Field:   fe.Field(),
			Message: describe(fe),
			Code:    string(codeFor(fe)),
		})
	}
	return internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: out})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", fe.Field(), fe.Param())
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a UUID", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func codeFor(fe validator.FieldError) internal.ErrorCode {
	switch fe.Field() {
	case "grant_type":
		return internal.ErrCodeInvalidGrantType
	case "context_type", "context_id":
		return internal.ErrCodeInvalidScope
	case "expires_at":
		return internal.ErrCodeInvalidExpiry
	}
	return internal.ErrCodeValidationFailed
}

type ValidatorFunc func(interface{}) *internal.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

// ValidationBuilder covers rules that depend on runtime values, such as the
// current time, which struct tags cannot express.
type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	v.fields = append(v.fields, FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	})
	return &v.fields[len(v.fields)-1]
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *internal.AppError {
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return internal.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is required", fv.FieldName), internal.ErrCodeValidationFailed)
			}
		case *string:
			if v == nil || strings.TrimSpace(*v) == "" {
				return internal.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is required", fv.FieldName), internal.ErrCodeValidationFailed)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *internal.AppError {
		if v, ok := value.(string); ok && len(v) > max {
			message := fmt.Sprintf("%s must not exceed %d characters", fv.FieldName, max)
			return internal.NewValidationFieldError(fv.FieldName, message, internal.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// After rejects a time that is not strictly after ref. A nil *time.Time
// passes.
func (fv *FieldValidator) After(ref time.Time, code internal.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *internal.AppError {
		var t *time.Time
		switch v := value.(type) {
		case time.Time:
			t = &v
		case *time.Time:
			t = v
		}
		if t != nil && !t.After(ref) {
			return internal.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be in the future", fv.FieldName), code)
		}
		return nil
	})
	return fv
}

// BothOrNeither requires value and other to be either both empty or both
// set.
func (fv *FieldValidator) BothOrNeither(otherName, other string, code internal.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *internal.AppError {
		v, _ := value.(string)
		if (v == "") != (other == "") {
			message := fmt.Sprintf("%s and %s must be set together", fv.FieldName, otherName)
			return internal.NewValidationFieldError(fv.FieldName, message, code)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(validator func(interface{}) *internal.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

func (v *ValidationBuilder) Validate() *internal.AppError {
	var validationErrors []internal.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(internal.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
				continue
			}
			validationErrors = append(validationErrors, internal.ValidationError{
				Field:   field.FieldName,
				Message: appErr.Message,
				Code:    string(appErr.Code),
			})
		}
	}

	if len(validationErrors) > 0 {
		return internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
			WithDetails(internal.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

// Merge folds several validation results into one, or nil if all passed.
func Merge(errs ...*internal.AppError) *internal.AppError {
	var all []internal.ValidationError
	for _, e := range errs {
		if e == nil {
			continue
		}
		if details, ok := e.Details.(internal.ValidationErrors); ok {
			all = append(all, details.Errors...)
			continue
		}
		all = append(all, internal.ValidationError{Message: e.Message, Code: string(e.Code)})
	}
	if len(all) == 0 {
		return nil
	}
	return internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: all})
}
