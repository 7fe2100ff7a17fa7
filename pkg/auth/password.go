package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordScheme        = "pbkdf2"
	passwordIterations    = 120000
	passwordKeyLen        = 32
	passwordSaltBytes     = 16
	maxPasswordIterations = 10_000_000
)

// HashPassword derives a salted PBKDF2-SHA256 hash and encodes it as
// pbkdf2$<iterations>$<salt>$<hash>. The hex salt string itself is the salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	key := pbkdf2.Key([]byte(password), []byte(saltHex), passwordIterations, passwordKeyLen, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", passwordScheme, passwordIterations, saltHex, hex.EncodeToString(key)), nil
}

// CheckPasswordHash reports whether password matches stored. Anything that
// does not parse verifies as false. bcrypt hashes are accepted as well.
func CheckPasswordHash(password, stored string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}

	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != passwordScheme {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 || iterations > maxPasswordIterations {
		return false
	}
	want, err := hex.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(password), []byte(parts[2]), iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ValidatePasswordStrength enforces the minimum rules for a new password:
// - Minimum 8 characters
// - At least 1 letter
// - At least 1 digit
func ValidatePasswordStrength(password string) error {
	var hasLetter, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsLetter(ch):
			hasLetter = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	var failures []string
	if len([]rune(password)) < 8 {
		failures = append(failures, "at least 8 characters")
	}
	if !hasLetter {
		failures = append(failures, "at least 1 letter")
	}
	if !hasDigit {
		failures = append(failures, "at least 1 digit")
	}

	if len(failures) > 0 {
		return fmt.Errorf("password must contain %s", strings.Join(failures, ", "))
	}
	return nil
}
