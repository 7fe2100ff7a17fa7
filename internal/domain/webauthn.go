package domain

import "time"

// WebAuthnCredential is a registered passkey. PublicKeyPEM holds the SPKI
// encoding of the credential key; the algorithm is implied by the key type.
type WebAuthnCredential struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	PublicKeyPEM string    `json:"-"`
	SignCount    uint32    `json:"sign_count"`
	Transports   []string  `json:"transports"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
