// Package shape provides the conformity-checking capability consumed by the
// request layer: a decoded JSON value is checked against a declared shape,
// a struct prototype carrying validator tags.
package shape

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "inlet/internal/errors"
)

// Checker reports whether a decoded JSON value conforms to a declared shape.
// Implementations return an *errors.APIError with code VALIDATION_ERROR on
// non-conformity.
type Checker interface {
	Conforms(decoded interface{}, shape interface{}) error
}

// StructChecker validates decoded values against struct shapes using
// go-playground/validator tags.
type StructChecker struct {
	validator *validator.Validate
}

// NewStructChecker creates a checker with JSON tag names wired into
// validation error messages.
func NewStructChecker() *StructChecker {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &StructChecker{validator: v}
}

// Conforms re-decodes the value into a fresh instance of the shape's struct
// type and runs tag-based validation. The shape argument is a prototype: its
// field values are ignored, only its type matters.
func (c *StructChecker) Conforms(decoded interface{}, shape interface{}) error {
	if decoded == nil {
		return apierrors.ValidationFailed("No decoded payload to validate", nil)
	}
	if shape == nil {
		return apierrors.ValidationFailed("No shape declared for validation", nil)
	}

	shapeType := reflect.TypeOf(shape)
	for shapeType.Kind() == reflect.Ptr {
		shapeType = shapeType.Elem()
	}
	if shapeType.Kind() != reflect.Struct {
		return apierrors.ValidationFailed(
			fmt.Sprintf("Shape must be a struct, got %s", shapeType.Kind()), nil)
	}

	// Round-trip through JSON so unknown fields are dropped and types are
	// coerced exactly the way a direct decode into the shape would behave.
	raw, err := json.Marshal(decoded)
	if err != nil {
		return apierrors.ValidationFailed("Payload is not representable as JSON", err.Error())
	}

	target := reflect.New(shapeType).Interface()
	if err := json.Unmarshal(raw, target); err != nil {
		return apierrors.ValidationFailed("Payload does not match declared shape", err.Error())
	}

	if err := c.validator.Struct(target); err != nil {
		var fieldErrors []apierrors.ValidationError
		for _, fe := range err.(validator.ValidationErrors) {
			fieldErrors = append(fieldErrors, apierrors.ValidationError{
				Field:   fe.Field(),
				Message: formatFieldError(fe),
			})
		}
		return apierrors.NewValidationErrors(fieldErrors)
	}

	return nil
}

// formatFieldError formats a single validator failure for clients
func formatFieldError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
