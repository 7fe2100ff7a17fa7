// Package memory keeps users, devices and passkeys in process memory. It
// backs the service when DATABASE_URL is empty and serves as the fake in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

type UserRepo struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*domain.User
}

func NewUserRepo() *UserRepo {
	return &UserRepo{users: make(map[int64]*domain.User)}
}

func (r *UserRepo) CreateUser(_ context.Context, username, passwordHash string, isDefaultPassword bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == username {
			return nil, domain.ErrUsernameTaken
		}
	}
	r.nextID++
	now := time.Now()
	u := &domain.User{
		ID:                r.nextID,
		Username:          username,
		PasswordHash:      passwordHash,
		IsDefaultPassword: isDefaultPassword,
		QRLoginEnabled:    true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *UserRepo) CountUsers(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func (r *UserRepo) GetUserByID(_ context.Context, userID int64) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) UpdateUserAuth(_ context.Context, userID int64, upd domain.AuthUpdate) (*domain.User, error) {
	if upd.Username == nil && upd.PasswordHash == nil && upd.IsDefaultPassword == nil {
		return nil, domain.ErrNothingToUpdate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Username != nil {
		for id, other := range r.users {
			if id != userID && other.Username == *upd.Username {
				return nil, domain.ErrUsernameTaken
			}
		}
		u.Username = *upd.Username
	}
	if upd.PasswordHash != nil && *upd.PasswordHash != u.PasswordHash {
		u.PasswordHash = *upd.PasswordHash
		u.TokenVersion++
	}
	if upd.IsDefaultPassword != nil {
		u.IsDefaultPassword = *upd.IsDefaultPassword
	}
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

func (r *UserRepo) SetTOTP(_ context.Context, userID int64, secret string, enabled bool) error {
	return r.mutate(userID, func(u *domain.User) {
		u.TOTPSecret = secret
		u.TOTPEnabled = enabled
	})
}

func (r *UserRepo) SetQRLoginEnabled(_ context.Context, userID int64, enabled bool) error {
	return r.mutate(userID, func(u *domain.User) {
		u.QRLoginEnabled = enabled
	})
}

func (r *UserRepo) mutate(userID int64, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

type DeviceRepo struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device
}

func NewDeviceRepo() *DeviceRepo {
	return &DeviceRepo{devices: make(map[string]*domain.Device)}
}

func copyDevice(d *domain.Device) *domain.Device {
	cp := *d
	if d.Alias != nil {
		alias := *d.Alias
		cp.Alias = &alias
	}
	return &cp
}

func (r *DeviceRepo) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return copyDevice(d), nil
}

func (r *DeviceRepo) UpsertDevice(_ context.Context, in domain.DeviceUpsert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	d, ok := r.devices[in.DeviceID]
	if !ok {
		d = &domain.Device{DeviceID: in.DeviceID, CreatedAt: now}
		r.devices[in.DeviceID] = d
	}
	if in.Alias != nil {
		alias := *in.Alias
		d.Alias = &alias
	}
	d.UserAgent = in.UserAgent
	d.LastSeenAt = now
	return nil
}

func (r *DeviceRepo) ListDevices(context.Context) ([]domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]domain.Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *copyDevice(d))
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastSeenAt.After(devices[j].LastSeenAt)
	})
	return devices, nil
}

func (r *DeviceRepo) UpdateDeviceAlias(_ context.Context, deviceID string, alias *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return domain.ErrNotFound
	}
	if alias == nil {
		d.Alias = nil
	} else {
		a := *alias
		d.Alias = &a
	}
	return nil
}

func (r *DeviceRepo) DeleteDevice(_ context.Context, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.devices[deviceID]
	delete(r.devices, deviceID)
	return ok, nil
}

type WebAuthnRepo struct {
	mu    sync.RWMutex
	creds map[string]*domain.WebAuthnCredential
}

func NewWebAuthnRepo() *WebAuthnRepo {
	return &WebAuthnRepo{creds: make(map[string]*domain.WebAuthnCredential)}
}

func copyCredential(c *domain.WebAuthnCredential) domain.WebAuthnCredential {
	cp := *c
	cp.Transports = append([]string(nil), c.Transports...)
	return cp
}

func (r *WebAuthnRepo) CreateCredential(_ context.Context, c *domain.WebAuthnCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.creds[c.ID]; exists {
		return domain.ErrInvalidInput
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := copyCredential(c)
	r.creds[c.ID] = &stored
	return nil
}

func (r *WebAuthnRepo) GetCredential(_ context.Context, id string) (*domain.WebAuthnCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.creds[id]
	if !ok {
		return nil, nil
	}
	cp := copyCredential(c)
	return &cp, nil
}

func (r *WebAuthnRepo) ListCredentials(_ context.Context, userID int64) ([]domain.WebAuthnCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds := make([]domain.WebAuthnCredential, 0)
	for _, c := range r.creds {
		if c.UserID == userID {
			creds = append(creds, copyCredential(c))
		}
	}
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].CreatedAt.Before(creds[j].CreatedAt)
	})
	return creds, nil
}

func (r *WebAuthnRepo) CountCredentials(_ context.Context, userID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.creds {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *WebAuthnRepo) UpdateSignCount(_ context.Context, id string, signCount uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.creds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if signCount > c.SignCount {
		c.SignCount = signCount
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (r *WebAuthnRepo) DeleteCredential(_ context.Context, userID int64, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.creds[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(r.creds, id)
	return true, nil
}
