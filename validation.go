package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-errors"
)

// SignUpRequest is the input of AuthSessionManager.SignUp
type SignUpRequest struct {
	Email          string
	Password       string
	DisplayName    string
	PolicyAccepted bool
}

func (r SignUpRequest) normalize() SignUpRequest {
	r.Email = normalizeEmail(r.Email)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	return r
}

// Validate checks the shape of the request. Policy acceptance is checked
// separately so it can fail first.
func (r SignUpRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.DisplayName, validation.Length(0, 80)),
	)
	if err != nil {
		return errors.FromOzzoValidation(err, "invalid sign up request")
	}
	return nil
}

func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return errors.FromOzzoValidation(validation.Errors{"email": err}, "invalid email address")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
