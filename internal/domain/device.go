package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxAliasLength bounds the user-chosen device alias.
const MaxAliasLength = 100

// Device is a client installation. The ID is generated by the client and is
// opaque to the server. A token bound to a device that has no row is revoked.
type Device struct {
	DeviceID   string    `json:"device_id"`
	Alias      *string   `json:"alias"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// DeviceUpsert is what a successful login knows about the device. A nil Alias
// keeps whatever alias the device already has.
type DeviceUpsert struct {
	DeviceID  string
	Alias     *string
	UserAgent string
}

// NormalizeAlias trims a user-supplied alias. Blank means no alias.
func NormalizeAlias(alias *string) (*string, error) {
	if alias == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*alias)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > MaxAliasLength {
		return nil, ErrAliasTooLong
	}
	return &trimmed, nil
}
