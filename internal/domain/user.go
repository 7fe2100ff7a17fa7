package domain

import "time"

type User struct {
	ID                int64     `json:"id"`
	Username          string    `json:"username"`
	PasswordHash      string    `json:"-"`
	IsDefaultPassword bool      `json:"is_default_password"`
	TOTPSecret        string    `json:"-"`
	TOTPEnabled       bool      `json:"totp_enabled"`
	QRLoginEnabled    bool      `json:"qr_login_enabled"`
	TokenVersion      int64     `json:"token_version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AuthUpdate describes a credential change. Nil fields are left untouched.
// A non-nil PasswordHash different from the stored one bumps TokenVersion in
// the same write.
type AuthUpdate struct {
	Username          *string
	PasswordHash      *string
	IsDefaultPassword *bool
}

// Profile is the public view returned by the "me" operation.
type Profile struct {
	Username            string `json:"username"`
	NeedsPasswordChange bool   `json:"needsPasswordChange"`
	TOTPEnabled         bool   `json:"totpEnabled"`
	PasskeyCount        int    `json:"passkeyCount"`
	QRLoginEnabled      bool   `json:"qrLoginEnabled"`
}
