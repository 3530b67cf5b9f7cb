// Package utils provides utility functions used throughout the application.
package utils

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// variableKeyRegex defines valid user variable keys
	variableKeyRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// Initialize validator with custom validations
func init() {
	validate = validator.New()

	// Register function to get tag name from json tags
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("variable_key", validateVariableKey)
	_ = validate.RegisterValidation("plugin_source", validatePluginSource)
}

// Validate performs validation on the given struct and returns validation errors.
func Validate(s any) error {
	return validate.Struct(s)
}

// ValidateVar validates a single variable with the given tag and returns errors.
func ValidateVar(field any, tag string) error {
	return validate.Var(field, tag)
}

// validateVariableKey checks that a user variable key is a simple identifier.
func validateVariableKey(fl validator.FieldLevel) bool {
	return variableKeyRegex.MatchString(fl.Field().String())
}

// validatePluginSource accepts either an http(s) URL or non-empty inline text.
func validatePluginSource(fl validator.FieldLevel) bool {
	source := strings.TrimSpace(fl.Field().String())
	if source == "" {
		return false
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return !strings.ContainsAny(source, " \t\n")
	}
	return true
}
