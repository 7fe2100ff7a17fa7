package device

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

const kickReasonDeleted = "device removed"

type Registry interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
	UpdateDeviceAlias(ctx context.Context, deviceID string, alias *string) error
	DeleteDevice(ctx context.Context, deviceID string) (bool, error)
}

type Kicker interface {
	KickDevice(deviceID, reason string) int
}

type Service struct {
	devices Registry
	kicker  Kicker
	logger  *zap.Logger
}

func NewService(devices Registry, kicker Kicker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{devices: devices, kicker: kicker, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]domain.Device, error) {
	return s.devices.ListDevices(ctx)
}

// UpdateAlias renames a device. A blank alias clears it.
func (s *Service) UpdateAlias(ctx context.Context, deviceID string, alias *string) (*string, error) {
	normalized, err := domain.NormalizeAlias(alias)
	if err != nil {
		return nil, err
	}
	if err := s.devices.UpdateDeviceAlias(ctx, deviceID, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Delete removes the device row and kicks its live connections. The kick runs
// even when the removal fails.
func (s *Service) Delete(ctx context.Context, deviceID string) (bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false, domain.ErrMissingDeviceID
	}

	removed, err := s.devices.DeleteDevice(ctx, deviceID)
	kicked := s.kicker.KickDevice(deviceID, kickReasonDeleted)
	if err != nil {
		s.logger.Error("device.delete.failed", zap.String("device_id", deviceID), zap.Int("kicked", kicked), zap.Error(err))
		return false, err
	}

	s.logger.Info("device.deleted",
		zap.String("device_id", deviceID),
		zap.Bool("removed", removed),
		zap.Int("kicked", kicked),
	)
	return removed, nil
}
