package webauthn

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

const (
	ClientDataTypeCreate = "webauthn.create"
	ClientDataTypeGet    = "webauthn.get"

	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagAttestedData = 0x40
	flagExtensions   = 0x80

	authDataMinLen = 37
	aaguidLen      = 16
)

// authenticatorData is rpIdHash(32) | flags(1) | signCount(4, big endian) |
// optional attested credential data | optional extensions.
type authenticatorData struct {
	RPIDHash     [32]byte
	Flags        byte
	SignCount    uint32
	CredentialID []byte
	PublicKey    []byte // COSE_Key, CBOR encoded
}

func (a *authenticatorData) UserPresent() bool {
	return a.Flags&flagUserPresent != 0
}

func parseAuthenticatorData(raw []byte) (*authenticatorData, error) {
	if len(raw) < authDataMinLen {
		return nil, fmt.Errorf("%w: authenticator data too short", domain.ErrInvalidInput)
	}
	a := &authenticatorData{
		Flags:     raw[32],
		SignCount: binary.BigEndian.Uint32(raw[33:37]),
	}
	copy(a.RPIDHash[:], raw[:32])

	if a.Flags&flagAttestedData == 0 {
		return a, nil
	}

	rest := raw[authDataMinLen:]
	if len(rest) < aaguidLen+2 {
		return nil, fmt.Errorf("%w: attested credential data too short", domain.ErrInvalidInput)
	}
	rest = rest[aaguidLen:]
	idLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if idLen == 0 || len(rest) < idLen {
		return nil, fmt.Errorf("%w: bad credential id length", domain.ErrInvalidInput)
	}
	a.CredentialID = rest[:idLen]
	rest = rest[idLen:]

	var key cbor.RawMessage
	tail, err := cbor.UnmarshalFirst(rest, &key)
	if err != nil {
		return nil, fmt.Errorf("%w: credential public key: %v", domain.ErrInvalidInput, err)
	}
	if len(tail) > 0 && a.Flags&flagExtensions == 0 {
		return nil, fmt.Errorf("%w: trailing bytes after credential public key", domain.ErrInvalidInput)
	}
	a.PublicKey = key
	return a, nil
}

// checkRelyingParty requires the rpIdHash to match rpID and the user-present
// flag to be set.
func (a *authenticatorData) checkRelyingParty(rpID string) error {
	want := sha256.Sum256([]byte(rpID))
	if subtle.ConstantTimeCompare(a.RPIDHash[:], want[:]) != 1 {
		return fmt.Errorf("%w: rp id hash", domain.ErrCeremonyMismatch)
	}
	if !a.UserPresent() {
		return fmt.Errorf("%w: user not present", domain.ErrCeremonyMismatch)
	}
	return nil
}

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// checkClientData validates the ceremony type, the challenge byte for byte
// and the origin.
func checkClientData(raw []byte, wantType string, challenge []byte, origin string) error {
	var cd clientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return fmt.Errorf("%w: client data is not json", domain.ErrInvalidInput)
	}
	if cd.Type != wantType {
		return fmt.Errorf("%w: client data type %q", domain.ErrCeremonyMismatch, cd.Type)
	}
	got, err := decodeB64(cd.Challenge)
	if err != nil || subtle.ConstantTimeCompare(got, challenge) != 1 {
		return fmt.Errorf("%w: challenge", domain.ErrCeremonyMismatch)
	}
	if cd.Origin != origin {
		return fmt.Errorf("%w: origin %q", domain.ErrCeremonyMismatch, cd.Origin)
	}
	return nil
}

type attestationObject struct {
	Fmt      string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

// decodeB64 accepts base64url with or without padding, and standard base64.
func decodeB64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

func encodeB64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
