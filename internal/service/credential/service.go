package credential

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/flow"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/pkg/auth"
	"github.com/iamasit07/mydrop-auth/pkg/uid"
)

const (
	MFAMethodTOTP     = "totp"
	maxTOTPAttempts   = 5
	mfaTokenBytes     = 32
	totpImageSize     = 256
	kickReasonUpdated = "credentials changed"
)

type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, isDefaultPassword bool) (*domain.User, error)
	CountUsers(ctx context.Context) (int, error)
	GetUserByID(ctx context.Context, userID int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserAuth(ctx context.Context, userID int64, upd domain.AuthUpdate) (*domain.User, error)
	SetTOTP(ctx context.Context, userID int64, secret string, enabled bool) error
	SetQRLoginEnabled(ctx context.Context, userID int64, enabled bool) error
}

type PasskeyCounter interface {
	CountCredentials(ctx context.Context, userID int64) (int, error)
}

type Kicker interface {
	KickUser(userID int64, exceptDeviceID, reason string) int
}

// Service covers password and TOTP logins plus every change to a user's own
// credentials.
type Service struct {
	users    UserStore
	passkeys PasskeyCounter
	sessions *session.Service
	kicker   Kicker
	mfa      *flow.Store[flow.PendingMFA]
	setups   *flow.Store[string]
	issuer   string
	now      func() time.Time
	logger   *zap.Logger

	dummyHash string
}

func NewService(users UserStore, passkeys PasskeyCounter, sessions *session.Service, kicker Kicker, flows *flow.Stores, issuer string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Checked against when the username is unknown so both paths cost one derivation.
	dummy, _ := auth.HashPassword("not-a-real-password")
	return &Service{
		users:     users,
		passkeys:  passkeys,
		sessions:  sessions,
		kicker:    kicker,
		mfa:       flows.MFA,
		setups:    flows.TOTPSetup,
		issuer:    issuer,
		now:       time.Now,
		logger:    logger,
		dummyHash: dummy,
	}
}

// WithClock swaps the time source used for TOTP checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type LoginRequest struct {
	Username  string
	Password  string
	DeviceID  string
	Alias     *string
	UserAgent string
	Remember  bool
}

// LoginResult carries either a session or a pending second factor.
type LoginResult struct {
	Session     *session.Issued
	MFARequired string
	MFAToken    string
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", domain.ErrMissingParameter)
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		return nil, domain.ErrMissingDeviceID
	}
	alias, err := domain.NormalizeAlias(req.Alias)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil {
		auth.CheckPasswordHash(req.Password, s.dummyHash)
		s.logger.Info("login.failed", zap.String("reason", "unknown_user"))
		return nil, domain.ErrInvalidCredentials
	}
	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		s.logger.Info("login.failed", zap.Int64("user_id", user.ID), zap.String("reason", "password"))
		return nil, domain.ErrInvalidCredentials
	}

	if user.TOTPEnabled && user.TOTPSecret != "" {
		token, err := uid.NewToken(mfaTokenBytes)
		if err != nil {
			return nil, err
		}
		s.mfa.Put(token, flow.PendingMFA{
			UserID:    user.ID,
			DeviceID:  req.DeviceID,
			Alias:     alias,
			UserAgent: req.UserAgent,
			Remember:  req.Remember,
			IssuedAt:  s.now(),
		})
		s.logger.Info("login.mfa_required", zap.Int64("user_id", user.ID), zap.String("device_id", req.DeviceID))
		return &LoginResult{MFARequired: MFAMethodTOTP, MFAToken: token}, nil
	}

	issued, err := s.sessions.IssueLogin(ctx, user, domain.DeviceUpsert{
		DeviceID:  req.DeviceID,
		Alias:     alias,
		UserAgent: req.UserAgent,
	}, req.Remember)
	if err != nil {
		return nil, err
	}
	s.logger.Info("login.success", zap.Int64("user_id", user.ID), zap.String("device_id", req.DeviceID), zap.String("method", "password"))
	return &LoginResult{Session: issued}, nil
}

// CompleteTOTP finishes a pending login. A wrong code leaves the flow in place
// until maxTOTPAttempts is reached; a correct one consumes it.
func (s *Service) CompleteTOTP(ctx context.Context, mfaToken, code string) (*session.Issued, error) {
	if mfaToken == "" || strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: mfaToken and code are required", domain.ErrMissingParameter)
	}

	// The attempt is counted before the code is checked so concurrent guesses
	// cannot outrun the cap.
	exhausted := false
	pending, err := s.mfa.Update(mfaToken, func(p *flow.PendingMFA) (bool, error) {
		if p.Attempts >= maxTOTPAttempts {
			exhausted = true
			return false, nil
		}
		p.Attempts++
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if exhausted {
		return nil, domain.ErrInvalidOrExpiredFlow
	}

	user, err := s.users.GetUserByID(ctx, pending.UserID)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil || !user.TOTPEnabled || user.TOTPSecret == "" {
		s.mfa.Delete(mfaToken)
		return nil, domain.ErrInvalidOrExpiredFlow
	}

	if !auth.VerifyTOTP(code, user.TOTPSecret, s.now()) {
		if pending.Attempts >= maxTOTPAttempts {
			s.mfa.Delete(mfaToken)
		}
		s.logger.Info("login.totp.failed", zap.Int64("user_id", user.ID), zap.Int("attempts", pending.Attempts))
		return nil, domain.ErrSignatureVerificationFailed
	}

	if _, ok := s.mfa.Take(mfaToken); !ok {
		return nil, domain.ErrInvalidOrExpiredFlow
	}

	issued, err := s.sessions.IssueLogin(ctx, user, domain.DeviceUpsert{
		DeviceID:  pending.DeviceID,
		Alias:     pending.Alias,
		UserAgent: pending.UserAgent,
	}, pending.Remember)
	if err != nil {
		return nil, err
	}
	s.logger.Info("login.success", zap.Int64("user_id", user.ID), zap.String("device_id", pending.DeviceID), zap.String("method", "totp"))
	return issued, nil
}

// loadAndCheck reloads the user with secrets and verifies the password.
func (s *Service) loadAndCheck(ctx context.Context, userID int64, password string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidToken
	}
	if password == "" || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

type TOTPSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth"`
}

// BeginTOTP generates a secret after password re-entry. Nothing is persisted
// until EnableTOTP proves the authenticator holds it.
func (s *Service) BeginTOTP(ctx context.Context, userID int64, password string) (*TOTPSetup, error) {
	user, err := s.loadAndCheck(ctx, userID, password)
	if err != nil {
		return nil, err
	}
	key, err := auth.GenerateTOTPKey(s.issuer, user.Username)
	if err != nil {
		return nil, err
	}
	s.setups.Put(setupKey(userID), key.Secret())
	return &TOTPSetup{Secret: key.Secret(), OTPAuthURL: key.URL()}, nil
}

func (s *Service) EnableTOTP(ctx context.Context, userID int64, secret, code string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" || strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: secret and code are required", domain.ErrMissingParameter)
	}
	pending, _, ok := s.setups.Get(setupKey(userID))
	if !ok || pending != secret {
		return domain.ErrInvalidOrExpiredFlow
	}
	if !auth.VerifyTOTP(code, secret, s.now()) {
		return domain.ErrSignatureVerificationFailed
	}
	if _, ok := s.setups.Take(setupKey(userID)); !ok {
		return domain.ErrInvalidOrExpiredFlow
	}
	if err := s.users.SetTOTP(ctx, userID, secret, true); err != nil {
		return err
	}
	s.sessions.InvalidateUser(ctx, userID)
	s.logger.Info("mfa.totp.enabled", zap.Int64("user_id", userID))
	return nil
}

func (s *Service) DisableTOTP(ctx context.Context, userID int64, password string) error {
	user, err := s.loadAndCheck(ctx, userID, password)
	if err != nil {
		return err
	}
	if !user.TOTPEnabled {
		return domain.ErrTOTPNotEnabled
	}
	if err := s.users.SetTOTP(ctx, userID, "", false); err != nil {
		return err
	}
	s.sessions.InvalidateUser(ctx, userID)
	s.logger.Info("mfa.totp.disabled", zap.Int64("user_id", userID))
	return nil
}

// TOTPImage renders an otpauth:// URI as a PNG QR code.
func (s *Service) TOTPImage(otpauthURL string) ([]byte, error) {
	if !strings.HasPrefix(otpauthURL, "otpauth://") {
		return nil, fmt.Errorf("%w: expected an otpauth:// uri", domain.ErrInvalidInput)
	}
	return auth.QRCodePNG(otpauthURL, totpImageSize)
}

type CredentialUpdate struct {
	CurrentPassword string
	NewUsername     *string
	NewPassword     *string
}

// UpdateCredentials changes username and/or password after password
// re-entry. Every live connection of the user is kicked afterwards, including
// the caller's own; the caller must drop its cookie as well.
func (s *Service) UpdateCredentials(ctx context.Context, userID int64, upd CredentialUpdate) (*domain.User, error) {
	user, err := s.loadAndCheck(ctx, userID, upd.CurrentPassword)
	if err != nil {
		return nil, err
	}

	var change domain.AuthUpdate
	if upd.NewUsername != nil {
		name := strings.TrimSpace(*upd.NewUsername)
		if name != "" && name != user.Username {
			change.Username = &name
		}
	}
	if upd.NewPassword != nil && *upd.NewPassword != "" {
		if err := auth.ValidatePasswordStrength(*upd.NewPassword); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrWeakPassword, err)
		}
		hash, err := auth.HashPassword(*upd.NewPassword)
		if err != nil {
			return nil, err
		}
		notDefault := false
		change.PasswordHash = &hash
		change.IsDefaultPassword = &notDefault
	}
	if change.Username == nil && change.PasswordHash == nil {
		return nil, domain.ErrNothingToUpdate
	}

	updated, err := s.users.UpdateUserAuth(ctx, userID, change)
	if err != nil {
		return nil, err
	}
	// The new version is committed before any connection is told to leave.
	s.sessions.InvalidateUser(ctx, userID)
	kicked := s.kicker.KickUser(userID, "", kickReasonUpdated)

	s.logger.Info("credentials.updated",
		zap.Int64("user_id", userID),
		zap.Bool("username_changed", change.Username != nil),
		zap.Bool("password_changed", change.PasswordHash != nil),
		zap.Int64("token_version", updated.TokenVersion),
		zap.Int("kicked", kicked),
	)
	return updated, nil
}

func (s *Service) SetQRLoginEnabled(ctx context.Context, userID int64, enabled bool) error {
	if err := s.users.SetQRLoginEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	s.sessions.InvalidateUser(ctx, userID)
	return nil
}

// Me builds the profile of an authenticated caller.
func (s *Service) Me(ctx context.Context, user *domain.User) (*domain.Profile, error) {
	count, err := s.passkeys.CountCredentials(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count passkeys: %w", err)
	}
	return &domain.Profile{
		Username:            user.Username,
		NeedsPasswordChange: user.IsDefaultPassword,
		TOTPEnabled:         user.TOTPEnabled,
		PasskeyCount:        count,
		QRLoginEnabled:      user.QRLoginEnabled,
	}, nil
}

// BootstrapAdmin creates the first user when the store is empty. The account
// is flagged so the client forces a password change.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) (bool, error) {
	n, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := s.users.CreateUser(ctx, username, hash, true); err != nil {
		return false, err
	}
	s.logger.Info("bootstrap.admin_created", zap.String("username", username))
	return true, nil
}

func setupKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
