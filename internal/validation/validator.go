package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs against their `validate` tags
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]

		var arg int
		if len(parts) == 2 {
			n, err := strconv.Atoi(parts[1])
			if err != nil {
				return fmt.Errorf("invalid rule argument %q", parts[1])
			}
			arg = n
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "email":
			if field.Kind() == reflect.String {
				email := field.String()
				if email != "" && !strings.Contains(email, "@") {
					return fmt.Errorf("invalid email format")
				}
			}

		case "min":
			switch field.Kind() {
			case reflect.String:
				if len(field.String()) < arg {
					return fmt.Errorf("minimum length is %d", arg)
				}
			case reflect.Int, reflect.Int64:
				if field.Int() < int64(arg) {
					return fmt.Errorf("minimum value is %d", arg)
				}
			}

		case "max":
			switch field.Kind() {
			case reflect.String:
				if len(field.String()) > arg {
					return fmt.Errorf("maximum length is %d", arg)
				}
			case reflect.Int, reflect.Int64:
				if field.Int() > int64(arg) {
					return fmt.Errorf("maximum value is %d", arg)
				}
			}
		}
	}

	return nil
}
