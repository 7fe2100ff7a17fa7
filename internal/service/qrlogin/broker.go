package qrlogin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/flow"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/pkg/auth"
	"github.com/iamasit07/mydrop-auth/pkg/uid"
)

const (
	PayloadType    = "mydrop.qr"
	PayloadVersion = 1

	tokenBytes = 16
	imageSize  = 320
	scanPath   = "/login/qr/scan"
)

type UserStore interface {
	GetUserByID(ctx context.Context, userID int64) (*domain.User, error)
}

// Broker runs the cross-device login handshake: an unauthenticated device
// starts a session, a logged-in device approves it, and the first device
// consumes it exactly once.
type Broker struct {
	sessions *flow.Store[flow.QRSession]
	users    UserStore
	issuer   *session.Service
	now      func() time.Time
	logger   *zap.Logger
}

func NewBroker(store *flow.Store[flow.QRSession], users UserStore, issuer *session.Service, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{sessions: store, users: users, issuer: issuer, now: time.Now, logger: logger}
}

type Started struct {
	RID       string    `json:"rid"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	ScanURL   string    `json:"scanUrl"`
}

type Status struct {
	Approved bool `json:"approved"`
	Consumed bool `json:"consumed"`
	Expired  bool `json:"expired"`
}

type Payload struct {
	Type    string `json:"t"`
	Version int    `json:"v"`
	RID     string `json:"rid"`
	Code    string `json:"code"`
}

type ConsumeRequest struct {
	RID       string
	Code      string
	DeviceID  string
	Alias     *string
	UserAgent string
	Remember  bool
}

func hashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

func codeMatches(sess flow.QRSession, code string) bool {
	h := hashCode(code)
	return subtle.ConstantTimeCompare(h[:], sess.CodeHash[:]) == 1
}

// Start opens a session. Only the hash of the code is stored.
func (b *Broker) Start(origin string) (*Started, error) {
	rid, err := uid.NewToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	code, err := uid.NewToken(tokenBytes)
	if err != nil {
		return nil, err
	}

	createdAt := b.now()
	expiresAt := createdAt.Add(b.sessions.TTL())
	b.sessions.Put(rid, flow.QRSession{
		CodeHash:  hashCode(code),
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	})

	q := url.Values{}
	q.Set("rid", rid)
	q.Set("code", code)
	b.logger.Info("qr.start", zap.String("rid", rid))
	return &Started{
		RID:       rid,
		Code:      code,
		ExpiresAt: expiresAt,
		ScanURL:   origin + scanPath + "?" + q.Encode(),
	}, nil
}

// Image renders the scannable payload for a live session.
func (b *Broker) Image(rid, code string) ([]byte, error) {
	if rid == "" || code == "" {
		return nil, domain.ErrMissingParameter
	}
	sess, _, ok := b.sessions.Get(rid)
	if !ok || sess.Consumed || !codeMatches(sess, code) {
		return nil, domain.ErrInvalidOrExpiredFlow
	}
	payload, err := json.Marshal(Payload{Type: PayloadType, Version: PayloadVersion, RID: rid, Code: code})
	if err != nil {
		return nil, err
	}
	return auth.QRCodePNG(string(payload), imageSize)
}

// Approve records the approving user. remember, when set, overrides what the
// new device asks for at consume time.
func (b *Broker) Approve(ctx context.Context, rid, code string, approverID int64, remember *bool) error {
	if rid == "" || code == "" {
		return domain.ErrMissingParameter
	}
	user, err := b.users.GetUserByID(ctx, approverID)
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil {
		return domain.ErrInvalidToken
	}
	if !user.QRLoginEnabled {
		return domain.ErrQRLoginDisabled
	}

	_, err = b.sessions.Update(rid, func(sess *flow.QRSession) (bool, error) {
		if sess.Consumed || !codeMatches(*sess, code) {
			return true, domain.ErrInvalidOrExpiredFlow
		}
		if sess.Approved() && sess.ApprovedBy != approverID {
			return true, domain.ErrInvalidOrExpiredFlow
		}
		sess.ApprovedBy = approverID
		if remember != nil {
			r := *remember
			sess.Remember = &r
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	b.logger.Info("qr.approve", zap.String("rid", rid), zap.Int64("user_id", approverID))
	return nil
}

// Status is polled by the new device. It never names the approver. An
// unknown rid reads as expired.
func (b *Broker) Status(rid, code string) (*Status, error) {
	if rid == "" || code == "" {
		return nil, domain.ErrMissingParameter
	}
	sess, _, ok := b.sessions.Get(rid)
	if !ok {
		return &Status{Expired: true}, nil
	}
	if !codeMatches(sess, code) {
		return nil, domain.ErrInvalidOrExpiredFlow
	}
	return &Status{Approved: sess.Approved(), Consumed: sess.Consumed}, nil
}

// Consume turns an approved session into a token for the new device. The
// consumed flag flips inside the store lock before the token is minted, so of
// two racing calls only one proceeds. A failure after that point still leaves
// the session consumed.
func (b *Broker) Consume(ctx context.Context, req ConsumeRequest) (*session.Issued, error) {
	if req.RID == "" || req.Code == "" {
		return nil, domain.ErrMissingParameter
	}
	if req.DeviceID == "" {
		return nil, domain.ErrMissingDeviceID
	}
	alias, err := domain.NormalizeAlias(req.Alias)
	if err != nil {
		return nil, err
	}

	sess, err := b.sessions.Update(req.RID, func(sess *flow.QRSession) (bool, error) {
		if sess.Consumed || !codeMatches(*sess, req.Code) {
			return true, domain.ErrInvalidOrExpiredFlow
		}
		if !sess.Approved() {
			return true, domain.ErrNotApproved
		}
		sess.Consumed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	user, err := b.users.GetUserByID(ctx, sess.ApprovedBy)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidOrExpiredFlow
	}

	remember := req.Remember
	if sess.Remember != nil {
		remember = *sess.Remember
	}
	issued, err := b.issuer.IssueLogin(ctx, user, domain.DeviceUpsert{
		DeviceID:  req.DeviceID,
		Alias:     alias,
		UserAgent: req.UserAgent,
	}, remember)
	if err != nil {
		return nil, err
	}
	b.logger.Info("qr.consume", zap.String("rid", req.RID), zap.Int64("user_id", user.ID), zap.String("device_id", req.DeviceID))
	return issued, nil
}
