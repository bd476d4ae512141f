package config

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	stepIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	matrixKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// validatorInstance configures and returns the shared validator instance
// used across the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("matrix_key", func(fl validator.FieldLevel) bool {
			return matrixKeyPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the configured validator instance for use outside
// the config package (e.g. by tests constructing fixtures).
func GetValidator() *validator.Validate {
	return validatorInstance()
}
