package auth

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RegisterRequest holds normalized registration input.
type RegisterRequest struct {
	Username string `validate:"required,min=3,max=32"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6,max=72"`
}

// ValidateRegister checks registration input and reports the first offending
// field as ErrInvalidUsername, ErrInvalidEmail or ErrInvalidPassword.
func ValidateRegister(req RegisterRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	switch fieldErrs[0].StructField() {
	case "Username":
		return ErrInvalidUsername
	case "Email":
		return ErrInvalidEmail
	default:
		return ErrInvalidPassword
	}
}
