package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation          = "VALIDATION_ERROR"
	TextCodeDataParseError      = "DATA_PARSE_ERROR"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeInvalidCreds        = "INVALID_CREDENTIALS"
	TextCodeEmailInUse          = "EMAIL_IN_USE"
	TextCodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	TextCodeNotAuthorized       = "NOT_AUTHORIZED"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
	TextCodeAlreadyVerified     = "ALREADY_VERIFIED"
	TextCodeMissingEmail        = "MISSING_EMAIL"
	TextCodeInvalidTransition   = "INVALID_VERIFICATION_TRANSITION"
	TextCodeBrokenInvariant     = "VERIFICATION_INVARIANT_BROKEN"
	TextCodeAvatarMissing       = "AVATAR_MISSING"
	TextCodeAvatarTooLarge      = "AVATAR_TOO_LARGE"
	TextCodeAvatarSourceMissing = "AVATAR_SOURCE_MISSING"
	TextCodeAvatarDecode        = "AVATAR_DECODE_ERROR"
	TextCodeAvatarStore         = "AVATAR_STORE_ERROR"
)

// ErrUnableToParseData parse error
var ErrUnableToParseData = goerrors.New("unable to parse request data", goerrors.CategoryBadInput).
	WithTextCode(TextCodeDataParseError).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when the password does not match the hash
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCredentials is returned by login for unknown emails and wrong passwords alike
var ErrInvalidCredentials = goerrors.New("Email or password is wrong", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailInUse is returned when signing up with a registered email
var ErrEmailInUse = goerrors.New("Email in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailInUse).
	WithCode(goerrors.CodeConflict)

// ErrEmailNotVerified is returned by login while the account is unverified
var ErrEmailNotVerified = goerrors.New("Email not verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotAuthorized covers missing, invalid, expired and stale session tokens
var ErrNotAuthorized = goerrors.New("Not authorized", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when the session token is past its expiry
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when the token can not be parsed or verified
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNotFound is the error we return for non found users
var ErrUserNotFound = goerrors.New("User not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyVerified is returned when re-sending verification to a verified user
var ErrAlreadyVerified = goerrors.New("Verification has already been passed", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeBadRequest)

// ErrMissingEmail is returned when re-sending verification without an email
var ErrMissingEmail = goerrors.New("missing required field email", goerrors.CategoryValidation).
	WithTextCode(TextCodeMissingEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidVerificationTransition is returned for transitions outside the table
var ErrInvalidVerificationTransition = goerrors.New("invalid verification state transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrVerificationInvariant is returned when a record would break
// IsVerified == (VerificationToken == "")
var ErrVerificationInvariant = goerrors.New("verification state is inconsistent", goerrors.CategoryInternal).
	WithTextCode(TextCodeBrokenInvariant).
	WithCode(goerrors.CodeInternal)

// ErrAvatarMissing is returned when no file was uploaded
var ErrAvatarMissing = goerrors.New("Avatar file is required", goerrors.CategoryValidation).
	WithTextCode(TextCodeAvatarMissing).
	WithCode(goerrors.CodeBadRequest)

// ErrAvatarTooLarge is returned when the upload exceeds the size ceiling
var ErrAvatarTooLarge = goerrors.New("Avatar file is too large", goerrors.CategoryValidation).
	WithTextCode(TextCodeAvatarTooLarge).
	WithCode(goerrors.CodeBadRequest)

// ErrAvatarSourceMissing is returned when the temporary upload is gone
var ErrAvatarSourceMissing = goerrors.New("Uploaded file is no longer available", goerrors.CategoryOperation).
	WithTextCode(TextCodeAvatarSourceMissing).
	WithCode(goerrors.CodeInternal)

// ErrAvatarDecode is returned when the upload is not a decodable image.
// It is a validation failure surfaced with a 500 status on the avatars route.
var ErrAvatarDecode = goerrors.New("Uploaded file is not a supported image", goerrors.CategoryValidation).
	WithTextCode(TextCodeAvatarDecode).
	WithCode(goerrors.CodeInternal)

// ErrAvatarStore is returned when the transformed image can not be published
var ErrAvatarStore = goerrors.New("Unable to store avatar", goerrors.CategoryOperation).
	WithTextCode(TextCodeAvatarStore).
	WithCode(goerrors.CodeInternal)

// NewValidationError wraps a payload validation failure
func NewValidationError(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, err.Error()).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return false
}

func internalError(err error, message string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal)
}

// annotate returns a copy of sentinel that unwraps to it, carrying meta.
func annotate(sentinel *goerrors.Error, meta map[string]any) error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	if len(meta) == 0 {
		return clone
	}
	return clone.WithMetadata(meta)
}
