package httputil

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/freshmart/freshmart-backend/pkg/errors"
)

var validate = validator.New()

// Validate validates a struct using validator tags and returns a
// validation AppError with per-field details on failure.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return errors.BadRequest("validation failed")
		}

		details := make(map[string]string)
		for _, fieldErr := range validationErrors {
			details[strings.ToLower(fieldErr.Field())] = validationMessage(fieldErr)
		}

		return errors.Validation(details)
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
