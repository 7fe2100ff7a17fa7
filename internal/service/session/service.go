package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/pkg/auth"
)

const userKeyPrefix = "user:"

// userCacheTTL bounds how long a cached row can lag behind a missed
// invalidation.
const userCacheTTL = 30 * time.Second

type UserStore interface {
	GetUserByID(ctx context.Context, userID int64) (*domain.User, error)
}

type DeviceRegistry interface {
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	UpsertDevice(ctx context.Context, d domain.DeviceUpsert) error
}

type CacheRepository interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type Options struct {
	RememberTTL time.Duration // 0 issues tokens without exp
	TempTTL     time.Duration
	Cache       CacheRepository // optional
	Logger      *zap.Logger
}

// Service issues session tokens and re-checks them against live server state.
type Service struct {
	users       UserStore
	devices     DeviceRegistry
	tokens      *auth.TokenIssuer
	cache       CacheRepository
	rememberTTL time.Duration
	tempTTL     time.Duration
	logger      *zap.Logger
}

func NewService(users UserStore, devices DeviceRegistry, tokens *auth.TokenIssuer, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:       users,
		devices:     devices,
		tokens:      tokens,
		cache:       opts.Cache,
		rememberTTL: opts.RememberTTL,
		tempTTL:     opts.TempTTL,
		logger:      logger,
	}
}

// Issued is a freshly minted session.
type Issued struct {
	Token  string
	Claims *auth.Claims
	// CookieMaxAge is zero for a browser-session cookie.
	CookieMaxAge        time.Duration
	NeedsPasswordChange bool
}

// Identity is the caller behind a token that passed every liveness check.
// User comes from the cache path and never carries password or TOTP secrets.
type Identity struct {
	User   *domain.User
	Device *domain.Device
	Claims *auth.Claims
	Token  string
}

// IssueLogin records the device and mints a token for it. Every login method
// ends here.
func (s *Service) IssueLogin(ctx context.Context, user *domain.User, device domain.DeviceUpsert, remember bool) (*Issued, error) {
	if device.DeviceID == "" {
		return nil, domain.ErrMissingDeviceID
	}
	if err := s.devices.UpsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to record device: %w", err)
	}

	ttl := s.tempTTL
	var maxAge time.Duration
	if remember {
		ttl = s.rememberTTL
		maxAge = s.rememberTTL
	}

	token, claims, err := s.tokens.Issue(user.ID, user.Username, device.DeviceID, user.TokenVersion, ttl)
	if err != nil {
		return nil, err
	}
	return &Issued{
		Token:               token,
		Claims:              claims,
		CookieMaxAge:        maxAge,
		NeedsPasswordChange: user.IsDefaultPassword,
	}, nil
}

// Authenticate verifies the signature, then requires the user to exist, the
// token version to match the user's current one, and the device row to exist.
// Every failure of those checks is ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.logger.Debug("auth.token.rejected", zap.Error(err))
		return nil, domain.ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.logger.Info("auth.token.user_missing", zap.Int64("user_id", userID))
		return nil, domain.ErrInvalidToken
	}
	if user.TokenVersion != claims.TokenVersion {
		s.logger.Info("auth.token.stale_version",
			zap.Int64("user_id", userID),
			zap.Int64("token_version", claims.TokenVersion),
			zap.Int64("current_version", user.TokenVersion),
		)
		return nil, domain.ErrInvalidToken
	}

	device, err := s.devices.GetDevice(ctx, claims.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("device lookup failed: %w", err)
	}
	if device == nil {
		s.logger.Info("auth.token.device_revoked",
			zap.Int64("user_id", userID),
			zap.String("device_id", claims.DeviceID),
		)
		return nil, domain.ErrInvalidToken
	}

	return &Identity{User: user, Device: device, Claims: claims, Token: token}, nil
}

// GetUser reads through the optional cache. nil, nil means no such user.
func (s *Service) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	if s.cache != nil {
		if user, err := s.getUserFromCache(ctx, userID); err == nil && user != nil {
			return user, nil
		}
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user != nil && s.cache != nil {
		if err := s.setUserInCache(ctx, user); err != nil {
			s.logger.Warn("session.cache.populate_failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return stripSecrets(user), nil
}

// InvalidateUser drops the cached row. Call it after every user mutation.
func (s *Service) InvalidateUser(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, userCacheKey(userID)); err != nil {
		s.logger.Warn("session.cache.invalidate_failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func userCacheKey(userID int64) string {
	return userKeyPrefix + strconv.FormatInt(userID, 10)
}

func (s *Service) getUserFromCache(ctx context.Context, userID int64) (*domain.User, error) {
	data, err := s.cache.Get(ctx, userCacheKey(userID))
	if err != nil {
		return nil, err
	}
	if data == "" {
		return nil, errors.New("empty cache entry")
	}
	var user domain.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// setUserInCache relies on domain.User's json tags to leave secrets out.
func (s *Service) setUserInCache(ctx context.Context, user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, userCacheKey(user.ID), data, userCacheTTL)
}

func stripSecrets(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	cp := *user
	cp.PasswordHash = ""
	cp.TOTPSecret = ""
	return &cp
}
