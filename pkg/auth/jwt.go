package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingSecret    = errors.New("token signing secret is not configured")
)

// Claims is the payload of a session token. Subject carries the user id.
// TokenVersion is the user's revocation counter at issuance time.
type Claims struct {
	Username     string `json:"username"`
	DeviceID     string `json:"device_id"`
	TokenVersion int64  `json:"tv"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &TokenIssuer{secret: []byte(secret), now: time.Now}, nil
}

// WithClock replaces the time source used for iat/exp.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// Issue signs a token. iat is always set; exp only when ttl is positive, so a
// zero ttl yields a token that never expires.
func (t *TokenIssuer) Issue(userID int64, username, deviceID string, tokenVersion int64, ttl time.Duration) (string, *Claims, error) {
	now := t.now()
	claims := &Claims{
		Username:     username,
		DeviceID:     deviceID,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(userID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks structure, signature and expiry. It knows nothing about the
// current server state; callers must still compare the revocation counter and
// the device binding.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(t.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrMalformedToken
	}
	if claims.DeviceID == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	default:
		// bad signature, unexpected alg, nbf in the future
		return ErrInvalidSignature
	}
}
