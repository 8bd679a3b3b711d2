package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const minPasswordLength = 6

// SignupInput is the signup payload
type SignupInput struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r SignupInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(minPasswordLength, 0),
		),
	)
}

// LoginInput is the login payload
type LoginInput struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r LoginInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(minPasswordLength, 0),
		),
	)
}

// ResendVerificationInput requests a new verification email
type ResendVerificationInput struct {
	Email string `json:"email" form:"email"`
}

// Validate will run validation rules. A missing email is reported
// separately from a malformed one.
func (r ResendVerificationInput) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return ErrMissingEmail
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
	)
}

// SubscriptionInput changes the subscription tier
type SubscriptionInput struct {
	Subscription string `json:"subscription" form:"subscription"`
}

// Validate will run validation rules
func (r SubscriptionInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Subscription,
			validation.Required,
			validation.In(SubscriptionTiers...),
		),
	)
}
