package http

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/service/device"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
	"github.com/iamasit07/mydrop-auth/pkg/useragent"
)

type DeviceHandler struct {
	Devices *device.Service
	Cookies httputil.CookieSettings
	Logger  *zap.Logger
}

func NewDeviceHandler(devices *device.Service, cookies httputil.CookieSettings, logger *zap.Logger) *DeviceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceHandler{Devices: devices, Cookies: cookies, Logger: logger}
}

type deviceView struct {
	domain.Device
	Description string `json:"description"`
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Devices.List(r.Context())
	if err != nil {
		writeError(w, h.Logger, "devices.list.error", err)
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{Device: d, Description: useragent.Describe(d.UserAgent)})
	}
	writeJSON(w, map[string]interface{}{"devices": views}, http.StatusOK)
}

// UpdateAlias renames the caller's own device.
func (h *DeviceHandler) UpdateAlias(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Alias *string `json:"alias"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "device.alias.error", err)
		return
	}

	alias, err := h.Devices.UpdateAlias(r.Context(), id.Device.DeviceID, req.Alias)
	if err != nil {
		writeError(w, h.Logger, "device.alias.error", err)
		return
	}
	updated := *id.Device
	updated.Alias = alias
	h.Logger.Info("device.alias.update", zap.String("device_id", updated.DeviceID))
	writeJSON(w, map[string]interface{}{"ok": true, "device": updated}, http.StatusOK)
}

// Delete revokes a device. Deleting the caller's own device also clears the
// caller's cookie.
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "admin.device.delete.error", err)
		return
	}

	target := strings.TrimSpace(req.DeviceID)
	removed, err := h.Devices.Delete(r.Context(), target)
	if target != "" && target == id.Device.DeviceID {
		httputil.ClearAuthCookie(w, r, h.Cookies)
	}
	if err != nil {
		writeError(w, h.Logger, "admin.device.delete.error", err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true, "removed": removed}, http.StatusOK)
}
