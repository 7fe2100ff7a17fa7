package webauthn

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

// COSE identifiers, RFC 9053.
const (
	coseKtyOKP = 1
	coseKtyEC2 = 2
	coseKtyRSA = 3

	AlgES256 = -7
	AlgEdDSA = -8
	AlgRS256 = -257

	coseCrvP256    = 1
	coseCrvEd25519 = 6
)

// SupportedAlgorithms is advertised in pubKeyCredParams, preferred first.
var SupportedAlgorithms = []int{AlgES256, AlgEdDSA, AlgRS256}

// coseKey maps the COSE_Key labels. Label -1 is the curve for EC2/OKP keys
// and the modulus for RSA keys, so it is decoded lazily.
type coseKey struct {
	Kty int64           `cbor:"1,keyasint"`
	Alg int64           `cbor:"3,keyasint,omitempty"`
	L1  cbor.RawMessage `cbor:"-1,keyasint"`
	L2  []byte          `cbor:"-2,keyasint"`
	L3  []byte          `cbor:"-3,keyasint,omitempty"`
}

func parseCOSEKey(raw []byte) (crypto.PublicKey, error) {
	var k coseKey
	if err := cbor.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: cose key: %v", domain.ErrInvalidInput, err)
	}

	switch k.Kty {
	case coseKtyEC2:
		if k.Alg != 0 && k.Alg != AlgES256 {
			return nil, unsupportedKey(k)
		}
		var crv int64
		if err := cbor.Unmarshal(k.L1, &crv); err != nil || crv != coseCrvP256 {
			return nil, unsupportedKey(k)
		}
		if len(k.L2) != 32 || len(k.L3) != 32 {
			return nil, fmt.Errorf("%w: bad ec2 coordinates", domain.ErrInvalidInput)
		}
		point := append([]byte{0x04}, k.L2...)
		point = append(point, k.L3...)
		if _, err := ecdh.P256().NewPublicKey(point); err != nil {
			return nil, fmt.Errorf("%w: point not on curve", domain.ErrInvalidInput)
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(k.L2),
			Y:     new(big.Int).SetBytes(k.L3),
		}, nil

	case coseKtyRSA:
		if k.Alg != 0 && k.Alg != AlgRS256 {
			return nil, unsupportedKey(k)
		}
		var n []byte
		if err := cbor.Unmarshal(k.L1, &n); err != nil || len(n) == 0 || len(k.L2) == 0 || len(k.L2) > 4 {
			return nil, fmt.Errorf("%w: bad rsa key", domain.ErrInvalidInput)
		}
		e := new(big.Int).SetBytes(k.L2)
		return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(e.Int64())}, nil

	case coseKtyOKP:
		if k.Alg != 0 && k.Alg != AlgEdDSA {
			return nil, unsupportedKey(k)
		}
		var crv int64
		if err := cbor.Unmarshal(k.L1, &crv); err != nil || crv != coseCrvEd25519 {
			return nil, unsupportedKey(k)
		}
		if len(k.L2) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: bad ed25519 key", domain.ErrInvalidInput)
		}
		return ed25519.PublicKey(k.L2), nil
	}
	return nil, unsupportedKey(k)
}

func unsupportedKey(k coseKey) error {
	return fmt.Errorf("%w: unsupported key type %d alg %d", domain.ErrInvalidInput, k.Kty, k.Alg)
}

// EncodePublicKeyPEM stores a key as SPKI PEM.
func EncodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM accepts SPKI PEM holding a P-256, RSA or Ed25519 key.
func ParsePublicKeyPEM(s string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: public key is not spki pem", domain.ErrInvalidInput)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: only P-256 ec keys are supported", domain.ErrInvalidInput)
		}
	case *rsa.PublicKey, ed25519.PublicKey:
	default:
		return nil, fmt.Errorf("%w: unsupported public key type %T", domain.ErrInvalidInput, pub)
	}
	return pub, nil
}

// verifySignature checks sig over signed with the algorithm implied by the
// key type.
func verifySignature(pub crypto.PublicKey, signed, sig []byte) bool {
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(signed)
		return ecdsa.VerifyASN1(key, digest[:], sig)
	case *rsa.PublicKey:
		digest := sha256.Sum256(signed)
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
	case ed25519.PublicKey:
		return ed25519.Verify(key, signed, sig)
	}
	return false
}
