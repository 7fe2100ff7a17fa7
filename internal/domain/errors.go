package domain

// Error is a sentinel error value that can be declared as a constant.
type Error string

func (e Error) Error() string {
	return string(e)
}

// Failures every caller can see. Messages stay generic so that none of them
// tells an attacker which half of a credential was wrong.
const (
	ErrInvalidCredentials          Error = "incorrect username or password"
	ErrInvalidOrExpiredFlow        Error = "login flow is invalid or has expired"
	ErrInvalidToken                Error = "please log in again"
	ErrCeremonyMismatch            Error = "webauthn ceremony mismatch"
	ErrSignatureVerificationFailed Error = "verification failed"
)

const (
	ErrNotFound         Error = "not found"
	ErrForbidden        Error = "forbidden"
	ErrInvalidInput     Error = "invalid input"
	ErrQRLoginDisabled  Error = "qr login is disabled"
	ErrNotApproved      Error = "qr login not approved yet"
	ErrNothingToUpdate  Error = "nothing to update"
	ErrTOTPNotEnabled   Error = "two-step verification is not enabled"
	ErrWeakPassword     Error = "password is too weak"
	ErrUsernameTaken    Error = "username already taken"
	ErrAliasTooLong     Error = "alias is too long"
	ErrMissingDeviceID  Error = "device id is required"
	ErrMissingParameter Error = "missing parameter"
)
