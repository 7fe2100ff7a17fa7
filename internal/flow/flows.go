package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/service/cleanup"
)

// PendingMFA is the state held between a correct password and the TOTP code.
type PendingMFA struct {
	UserID    int64
	DeviceID  string
	Alias     *string
	UserAgent string
	Remember  bool
	IssuedAt  time.Time
	Attempts  int
}

// Challenge is an outstanding WebAuthn ceremony. UserID is zero for the
// usernameless login ceremony.
type Challenge struct {
	UserID    int64
	Challenge []byte
	RPID      string
	Origin    string
	IssuedAt  time.Time
}

// QRSession is a cross-device login handshake. Only the SHA-256 of the
// one-time code is kept.
type QRSession struct {
	CodeHash   [32]byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ApprovedBy int64
	Remember   *bool
	Consumed   bool
}

func (q QRSession) Approved() bool {
	return q.ApprovedBy != 0
}

type TTLs struct {
	Flow  time.Duration
	QR    time.Duration
	Sweep time.Duration
}

// Stores owns every ephemeral flow map and the worker that sweeps them.
type Stores struct {
	MFA              *Store[PendingMFA]
	TOTPSetup        *Store[string] // user id -> secret handed out after password re-entry
	WebAuthnRegister *Store[Challenge]
	WebAuthnLogin    *Store[Challenge]
	QR               *Store[QRSession]

	worker *cleanup.Worker
	cancel context.CancelFunc
}

// NewStores builds the flow maps and starts sweeping them right away.
// Close must be called on shutdown.
func NewStores(ttls TTLs, logger *zap.Logger) *Stores {
	s := &Stores{
		MFA:              NewStore[PendingMFA](ttls.Flow),
		TOTPSetup:        NewStore[string](ttls.Flow),
		WebAuthnRegister: NewStore[Challenge](ttls.Flow),
		WebAuthnLogin:    NewStore[Challenge](ttls.Flow),
		QR: NewStore[QRSession](ttls.QR).WithEvict(func(q QRSession) bool {
			return q.Consumed
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.worker = cleanup.NewWorker("flows", ttls.Sweep, logger,
		s.MFA, s.TOTPSetup, s.WebAuthnRegister, s.WebAuthnLogin, s.QR)
	s.worker.Start(ctx)
	return s
}

// Sweep runs one pass over every store outside the timer.
func (s *Stores) Sweep() int {
	return s.worker.RunOnce()
}

func (s *Stores) Close() {
	s.worker.Stop()
	s.cancel()
}
