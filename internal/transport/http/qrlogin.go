package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/service/qrlogin"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
)

type QRLoginHandler struct {
	Broker  *qrlogin.Broker
	Cookies httputil.CookieSettings
	Logger  *zap.Logger
}

func NewQRLoginHandler(broker *qrlogin.Broker, cookies httputil.CookieSettings, logger *zap.Logger) *QRLoginHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QRLoginHandler{Broker: broker, Cookies: cookies, Logger: logger}
}

func (h *QRLoginHandler) Start(w http.ResponseWriter, r *http.Request) {
	started, err := h.Broker.Start(httputil.RequestOrigin(r, h.Cookies.TrustProxy))
	if err != nil {
		writeError(w, h.Logger, "qr.start.error", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"ok":        true,
		"rid":       started.RID,
		"code":      started.Code,
		"expiresAt": started.ExpiresAt.UnixMilli(),
		"scanUrl":   started.ScanURL,
	}, http.StatusOK)
}

func (h *QRLoginHandler) Image(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	png, err := h.Broker.Image(q.Get("rid"), q.Get("code"))
	if err != nil {
		writeError(w, h.Logger, "qr.image.error", err)
		return
	}
	writePNG(w, png)
}

// Approve runs on the already trusted device that scanned the code.
func (h *QRLoginHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		RID      string       `json:"rid"`
		Code     string       `json:"code"`
		Remember optionalBool `json:"remember"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "qr.approve.error", err)
		return
	}

	if err := h.Broker.Approve(r.Context(), req.RID, req.Code, id.User.ID, req.Remember.Ptr()); err != nil {
		writeError(w, h.Logger, "qr.approve.error", err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *QRLoginHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := h.Broker.Status(q.Get("rid"), q.Get("code"))
	if err != nil {
		writeError(w, h.Logger, "qr.status.error", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"ok":       true,
		"approved": status.Approved,
		"consumed": status.Consumed,
		"expired":  status.Expired,
	}, http.StatusOK)
}

func (h *QRLoginHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RID      string   `json:"rid"`
		Code     string   `json:"code"`
		DeviceID string   `json:"deviceId"`
		Alias    *string  `json:"alias"`
		Remember flexBool `json:"remember"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "qr.consume.error", err)
		return
	}

	issued, err := h.Broker.Consume(r.Context(), qrlogin.ConsumeRequest{
		RID:       req.RID,
		Code:      req.Code,
		DeviceID:  req.DeviceID,
		Alias:     req.Alias,
		UserAgent: r.UserAgent(),
		Remember:  bool(req.Remember),
	})
	if err != nil {
		writeError(w, h.Logger, "qr.consume.error", err)
		return
	}
	startSession(w, r, h.Cookies, issued)
}
