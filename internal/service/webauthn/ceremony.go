package webauthn

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/flow"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/pkg/uid"
)

const (
	challengeBytes = 32
	flowIDBytes    = 24
	timeoutMillis  = 60000
)

type CredentialStore interface {
	CreateCredential(ctx context.Context, c *domain.WebAuthnCredential) error
	GetCredential(ctx context.Context, id string) (*domain.WebAuthnCredential, error)
	ListCredentials(ctx context.Context, userID int64) ([]domain.WebAuthnCredential, error)
	// UpdateSignCount must leave a larger stored counter in place.
	UpdateSignCount(ctx context.Context, id string, signCount uint32) error
	DeleteCredential(ctx context.Context, userID int64, id string) (bool, error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, userID int64) (*domain.User, error)
}

// RelyingParty is derived from the incoming request: ID is the host name,
// Origin is scheme://host.
type RelyingParty struct {
	ID     string
	Origin string
}

// Service runs registration and authentication ceremonies. Each ceremony is a
// start/finish pair bridged by a single-use challenge.
type Service struct {
	creds    CredentialStore
	users    UserStore
	sessions *session.Service
	regs     *flow.Store[flow.Challenge]
	logins   *flow.Store[flow.Challenge]
	rpName   string
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(creds CredentialStore, users UserStore, sessions *session.Service, flows *flow.Stores, rpName string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		creds:    creds,
		users:    users,
		sessions: sessions,
		regs:     flows.WebAuthnRegister,
		logins:   flows.WebAuthnLogin,
		rpName:   rpName,
		now:      time.Now,
		logger:   logger,
	}
}

type RPEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type CredentialParameter struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

type CredentialDescriptor struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

type AuthenticatorSelection struct {
	ResidentKey      string `json:"residentKey"`
	UserVerification string `json:"userVerification"`
}

type CreationOptions struct {
	Challenge              string                 `json:"challenge"`
	RP                     RPEntity               `json:"rp"`
	User                   UserEntity             `json:"user"`
	PubKeyCredParams       []CredentialParameter  `json:"pubKeyCredParams"`
	Timeout                int                    `json:"timeout"`
	Attestation            string                 `json:"attestation"`
	AuthenticatorSelection AuthenticatorSelection `json:"authenticatorSelection"`
	ExcludeCredentials     []CredentialDescriptor `json:"excludeCredentials"`
}

type RequestOptions struct {
	Challenge        string                 `json:"challenge"`
	RPID             string                 `json:"rpId"`
	Timeout          int                    `json:"timeout"`
	UserVerification string                 `json:"userVerification"`
	AllowCredentials []CredentialDescriptor `json:"allowCredentials"`
}

type RegistrationStart struct {
	FlowID    string          `json:"flowId"`
	PublicKey CreationOptions `json:"publicKey"`
}

type LoginStart struct {
	FlowID    string         `json:"flowId"`
	PublicKey RequestOptions `json:"publicKey"`
}

// RegistrationResponse carries either a pre-extracted SPKI PEM key with its
// initial counter, or the raw attestationObject and clientDataJSON.
type RegistrationResponse struct {
	FlowID            string   `json:"flowId"`
	ID                string   `json:"id"`
	PublicKeyPEM      string   `json:"publicKeyPem"`
	SignCount         uint32   `json:"signCount"`
	Transports        []string `json:"transports"`
	AttestationObject string   `json:"attestationObject"`
	ClientDataJSON    string   `json:"clientDataJSON"`
}

type AssertionResponse struct {
	FlowID            string `json:"flowId"`
	ID                string `json:"id"`
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
}

func (s *Service) newChallenge(store *flow.Store[flow.Challenge], userID int64, rp RelyingParty) (string, []byte, error) {
	if rp.ID == "" || rp.Origin == "" {
		return "", nil, fmt.Errorf("%w: relying party unknown", domain.ErrInvalidInput)
	}
	challenge, err := uid.RandomBytes(challengeBytes)
	if err != nil {
		return "", nil, err
	}
	flowID, err := uid.NewToken(flowIDBytes)
	if err != nil {
		return "", nil, err
	}
	store.Put(flowID, flow.Challenge{
		UserID:    userID,
		Challenge: challenge,
		RPID:      rp.ID,
		Origin:    rp.Origin,
		IssuedAt:  s.now(),
	})
	return flowID, challenge, nil
}

func (s *Service) RegisterStart(ctx context.Context, user *domain.User, rp RelyingParty) (*RegistrationStart, error) {
	existing, err := s.creds.ListCredentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	flowID, challenge, err := s.newChallenge(s.regs, user.ID, rp)
	if err != nil {
		return nil, err
	}

	params := make([]CredentialParameter, 0, len(SupportedAlgorithms))
	for _, alg := range SupportedAlgorithms {
		params = append(params, CredentialParameter{Type: "public-key", Alg: alg})
	}
	exclude := make([]CredentialDescriptor, 0, len(existing))
	for _, c := range existing {
		exclude = append(exclude, CredentialDescriptor{Type: "public-key", ID: c.ID, Transports: c.Transports})
	}

	return &RegistrationStart{
		FlowID: flowID,
		PublicKey: CreationOptions{
			Challenge: encodeB64(challenge),
			RP:        RPEntity{ID: rp.ID, Name: s.rpName},
			User: UserEntity{
				ID:          encodeB64([]byte(strconv.FormatInt(user.ID, 10))),
				Name:        user.Username,
				DisplayName: user.Username,
			},
			PubKeyCredParams: params,
			Timeout:          timeoutMillis,
			Attestation:      "none",
			AuthenticatorSelection: AuthenticatorSelection{
				ResidentKey:      "preferred",
				UserVerification: "preferred",
			},
			ExcludeCredentials: exclude,
		},
	}, nil
}

// RegisterFinish stores the new credential for userID. The challenge is
// consumed whatever the outcome.
func (s *Service) RegisterFinish(ctx context.Context, userID int64, resp RegistrationResponse) (*domain.WebAuthnCredential, error) {
	if resp.FlowID == "" {
		return nil, fmt.Errorf("%w: flowId", domain.ErrMissingParameter)
	}
	ch, ok := s.regs.Take(resp.FlowID)
	if !ok {
		return nil, domain.ErrInvalidOrExpiredFlow
	}
	if ch.UserID != userID {
		return nil, fmt.Errorf("%w: ceremony belongs to another user", domain.ErrCeremonyMismatch)
	}
	credID := strings.TrimSpace(resp.ID)
	if credID == "" {
		return nil, fmt.Errorf("%w: credential id", domain.ErrMissingParameter)
	}

	cred := &domain.WebAuthnCredential{
		ID:         credID,
		UserID:     userID,
		Transports: resp.Transports,
	}
	if cred.Transports == nil {
		cred.Transports = []string{}
	}

	if resp.AttestationObject != "" {
		pemKey, signCount, err := s.verifyAttestation(ch, credID, resp)
		if err != nil {
			s.logger.Info("webauthn.register.rejected", zap.Int64("user_id", userID), zap.Error(err))
			return nil, err
		}
		cred.PublicKeyPEM = pemKey
		cred.SignCount = signCount
	} else {
		if _, err := ParsePublicKeyPEM(resp.PublicKeyPEM); err != nil {
			return nil, err
		}
		cred.PublicKeyPEM = resp.PublicKeyPEM
		cred.SignCount = resp.SignCount
	}

	if err := s.creds.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}
	s.logger.Info("webauthn.register.success", zap.Int64("user_id", userID), zap.String("credential_id", credID))
	return cred, nil
}

func (s *Service) verifyAttestation(ch flow.Challenge, credID string, resp RegistrationResponse) (string, uint32, error) {
	clientJSON, err := decodeB64(resp.ClientDataJSON)
	if err != nil {
		return "", 0, fmt.Errorf("%w: clientDataJSON", domain.ErrInvalidInput)
	}
	if err := checkClientData(clientJSON, ClientDataTypeCreate, ch.Challenge, ch.Origin); err != nil {
		return "", 0, err
	}

	rawAtt, err := decodeB64(resp.AttestationObject)
	if err != nil {
		return "", 0, fmt.Errorf("%w: attestationObject", domain.ErrInvalidInput)
	}
	var att attestationObject
	if err := cbor.Unmarshal(rawAtt, &att); err != nil {
		return "", 0, fmt.Errorf("%w: attestation object: %v", domain.ErrInvalidInput, err)
	}
	ad, err := parseAuthenticatorData(att.AuthData)
	if err != nil {
		return "", 0, err
	}
	if err := ad.checkRelyingParty(ch.RPID); err != nil {
		return "", 0, err
	}
	if ad.PublicKey == nil {
		return "", 0, fmt.Errorf("%w: no attested credential data", domain.ErrInvalidInput)
	}
	if encodeB64(ad.CredentialID) != credID {
		return "", 0, fmt.Errorf("%w: credential id does not match attested data", domain.ErrCeremonyMismatch)
	}

	pub, err := parseCOSEKey(ad.PublicKey)
	if err != nil {
		return "", 0, err
	}
	pemKey, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return "", 0, err
	}
	return pemKey, ad.SignCount, nil
}

// LoginStart opens a usernameless assertion ceremony.
func (s *Service) LoginStart(rp RelyingParty) (*LoginStart, error) {
	flowID, challenge, err := s.newChallenge(s.logins, 0, rp)
	if err != nil {
		return nil, err
	}
	return &LoginStart{
		FlowID: flowID,
		PublicKey: RequestOptions{
			Challenge:        encodeB64(challenge),
			RPID:             rp.ID,
			Timeout:          timeoutMillis,
			UserVerification: "preferred",
			AllowCredentials: []CredentialDescriptor{},
		},
	}, nil
}

// LoginFinish verifies an assertion and logs the credential owner in on
// device. Every check is a hard reject.
func (s *Service) LoginFinish(ctx context.Context, resp AssertionResponse, device domain.DeviceUpsert, remember bool) (*session.Issued, error) {
	if resp.FlowID == "" || resp.ID == "" {
		return nil, fmt.Errorf("%w: flowId and id are required", domain.ErrMissingParameter)
	}
	if device.DeviceID == "" {
		return nil, domain.ErrMissingDeviceID
	}
	alias, err := domain.NormalizeAlias(device.Alias)
	if err != nil {
		return nil, err
	}
	device.Alias = alias

	ch, ok := s.logins.Take(resp.FlowID)
	if !ok {
		return nil, domain.ErrInvalidOrExpiredFlow
	}

	cred, err := s.creds.GetCredential(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		s.logger.Info("webauthn.login.unknown_credential")
		return nil, domain.ErrSignatureVerificationFailed
	}

	clientJSON, err := decodeB64(resp.ClientDataJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: clientDataJSON", domain.ErrInvalidInput)
	}
	rawAuth, err := decodeB64(resp.AuthenticatorData)
	if err != nil {
		return nil, fmt.Errorf("%w: authenticatorData", domain.ErrInvalidInput)
	}
	sig, err := decodeB64(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature", domain.ErrInvalidInput)
	}

	if err := checkClientData(clientJSON, ClientDataTypeGet, ch.Challenge, ch.Origin); err != nil {
		s.logger.Info("webauthn.login.rejected", zap.Int64("user_id", cred.UserID), zap.Error(err))
		return nil, err
	}
	ad, err := parseAuthenticatorData(rawAuth)
	if err != nil {
		return nil, err
	}
	if err := ad.checkRelyingParty(ch.RPID); err != nil {
		s.logger.Info("webauthn.login.rejected", zap.Int64("user_id", cred.UserID), zap.Error(err))
		return nil, err
	}

	pub, err := ParsePublicKeyPEM(cred.PublicKeyPEM)
	if err != nil {
		s.logger.Error("webauthn.login.stored_key_invalid", zap.String("credential_id", cred.ID), zap.Error(err))
		return nil, domain.ErrSignatureVerificationFailed
	}
	clientHash := sha256.Sum256(clientJSON)
	signed := make([]byte, 0, len(rawAuth)+len(clientHash))
	signed = append(signed, rawAuth...)
	signed = append(signed, clientHash[:]...)
	if !verifySignature(pub, signed, sig) {
		s.logger.Info("webauthn.login.bad_signature", zap.Int64("user_id", cred.UserID))
		return nil, domain.ErrSignatureVerificationFailed
	}

	switch {
	case ad.SignCount > cred.SignCount:
		if err := s.creds.UpdateSignCount(ctx, cred.ID, ad.SignCount); err != nil {
			s.logger.Warn("webauthn.login.counter_update_failed", zap.String("credential_id", cred.ID), zap.Error(err))
		}
	case ad.SignCount != 0 || cred.SignCount != 0:
		s.logger.Warn("webauthn.login.counter_regressed",
			zap.String("credential_id", cred.ID),
			zap.Uint32("stored", cred.SignCount),
			zap.Uint32("received", ad.SignCount),
		)
	}

	user, err := s.users.GetUserByID(ctx, cred.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrSignatureVerificationFailed
	}

	issued, err := s.sessions.IssueLogin(ctx, user, device, remember)
	if err != nil {
		return nil, err
	}
	s.logger.Info("login.success", zap.Int64("user_id", user.ID), zap.String("device_id", device.DeviceID), zap.String("method", "webauthn"))
	return issued, nil
}

func (s *Service) ListCredentials(ctx context.Context, userID int64) ([]domain.WebAuthnCredential, error) {
	return s.creds.ListCredentials(ctx, userID)
}

func (s *Service) DeleteCredential(ctx context.Context, userID int64, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id", domain.ErrMissingParameter)
	}
	removed, err := s.creds.DeleteCredential(ctx, userID, id)
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrNotFound
	}
	s.logger.Info("webauthn.credential.deleted", zap.Int64("user_id", userID), zap.String("credential_id", id))
	return nil
}
