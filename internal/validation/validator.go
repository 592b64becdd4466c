package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"

	"github.com/go-playground/validator/v10"
)

// This package provides a shared, lazily built validator for request bodies
// and stored messages. Building a validator.Validate is costly, so a single
// instance is reused.

var (
	validate *validator.Validate
	once     sync.Once
)

func getInstance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Struct checks a struct against the rules in its `validate` tags.
// If validation fails, it returns a wrapped `app_errors.ErrValidation` with a
// readable, detailed message.
func Struct(payload interface{}) error {
	err := getInstance().Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: an unexpected error occurred during validation: %s", app_errors.ErrValidation, err.Error())
	}

	var errorMessages []string
	for _, fieldErr := range validationErrors {
		// e.g. "Field 'Role' failed on the 'oneof' tag"
		errorMessages = append(errorMessages, fmt.Sprintf("Field '%s' failed on the '%s' tag", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return app_errors.New(app_errors.ErrValidation, strings.Join(errorMessages, "; "))
}
