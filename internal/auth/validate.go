package auth

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cuongbtq/jobvault/internal/domain"
)

type credentials struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required"`
}

// Validator applies the signup format rules
type Validator struct {
	validate       *validator.Validate
	minPasswordLen int
}

// NewValidator creates a Validator requiring at least minPasswordLen characters
func NewValidator(minPasswordLen int) *Validator {
	if minPasswordLen < 1 {
		minPasswordLen = 1
	}
	return &Validator{
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		minPasswordLen: minPasswordLen,
	}
}

// NormalizeEmail trims and lower-cases an email so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Credentials checks an email/password pair for signup
func (v *Validator) Credentials(email, password string) error {
	if err := v.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, describe(err))
	}
	if len([]rune(password)) < v.minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, v.minPasswordLen)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password longer than %d bytes", domain.ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " is not a valid email address"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
