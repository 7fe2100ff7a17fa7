package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/service/credential"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/internal/transport/http/middleware"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
	"github.com/iamasit07/mydrop-auth/pkg/useragent"
)

const kickReasonLogout = "logged out"

type TokenKicker interface {
	KickToken(token, reason string) int
}

type AuthHandler struct {
	Credentials *credential.Service
	Kicker      TokenKicker
	Cookies     httputil.CookieSettings
	Logger      *zap.Logger
}

func NewAuthHandler(credentials *credential.Service, kicker TokenKicker, cookies httputil.CookieSettings, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		Credentials: credentials,
		Kicker:      kicker,
		Cookies:     cookies,
		Logger:      logger,
	}
}

type sessionResponse struct {
	OK                  bool `json:"ok"`
	NeedsPasswordChange bool `json:"needsPasswordChange"`
}

// startSession sets the auth cookie for a freshly issued token.
func startSession(w http.ResponseWriter, r *http.Request, cookies httputil.CookieSettings, issued *session.Issued) {
	httputil.SetAuthCookie(w, r, cookies, issued.Token, issued.CookieMaxAge)
	writeJSON(w, sessionResponse{OK: true, NeedsPasswordChange: issued.NeedsPasswordChange}, http.StatusOK)
}

func identity(w http.ResponseWriter, r *http.Request) (*session.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeJSONError(w, domain.ErrInvalidToken.Error(), http.StatusUnauthorized)
	}
	return id, ok
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string   `json:"username"`
		Password string   `json:"password"`
		DeviceID string   `json:"deviceId"`
		Alias    *string  `json:"alias"`
		Remember flexBool `json:"remember"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "login.error", err)
		return
	}

	result, err := h.Credentials.Login(r.Context(), credential.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		DeviceID:  req.DeviceID,
		Alias:     req.Alias,
		UserAgent: r.UserAgent(),
		Remember:  bool(req.Remember),
	})
	if err != nil {
		if err == domain.ErrInvalidCredentials {
			h.Logger.Warn("login.failed", zap.String("ip", useragent.ClientIP(r, h.Cookies.TrustProxy)))
		}
		writeError(w, h.Logger, "login.error", err)
		return
	}

	if result.MFARequired != "" {
		writeJSON(w, map[string]interface{}{
			"ok":          true,
			"mfaRequired": result.MFARequired,
			"mfaToken":    result.MFAToken,
		}, http.StatusOK)
		return
	}
	startSession(w, r, h.Cookies, result.Session)
}

func (h *AuthHandler) LoginTOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MFAToken string `json:"mfaToken"`
		Code     string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "login.totp.error", err)
		return
	}

	issued, err := h.Credentials.CompleteTOTP(r.Context(), req.MFAToken, req.Code)
	if err != nil {
		writeError(w, h.Logger, "login.totp.error", err)
		return
	}
	startSession(w, r, h.Cookies, issued)
}

// Logout clears the cookie and drops live connections opened with the same
// token. The token itself stays valid until it expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	httputil.ClearAuthCookie(w, r, h.Cookies)
	kicked := h.Kicker.KickToken(id.Token, kickReasonLogout)
	h.Logger.Info("logout", zap.String("device_id", id.Device.DeviceID), zap.Int("kicked", kicked))
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	profile, err := h.Credentials.Me(r.Context(), id.User)
	if err != nil {
		writeError(w, h.Logger, "me.error", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"device": id.Device,
		"user":   profile,
	}, http.StatusOK)
}

// UpdateCredentials changes username and/or password. The caller is logged
// out along with every other session of the user.
func (h *AuthHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		OldPassword string  `json:"oldPassword"`
		Username    *string `json:"username"`
		Password    *string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "admin.user.error", err)
		return
	}

	_, err := h.Credentials.UpdateCredentials(r.Context(), id.User.ID, credential.CredentialUpdate{
		CurrentPassword: req.OldPassword,
		NewUsername:     req.Username,
		NewPassword:     req.Password,
	})
	if err != nil {
		writeError(w, h.Logger, "admin.user.error", err)
		return
	}
	httputil.ClearAuthCookie(w, r, h.Cookies)
	writeJSON(w, map[string]bool{"ok": true, "loggedOut": true}, http.StatusOK)
}

func (h *AuthHandler) TOTPBegin(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "mfa.totp.begin.error", err)
		return
	}

	setup, err := h.Credentials.BeginTOTP(r.Context(), id.User.ID, req.Password)
	if err != nil {
		writeError(w, h.Logger, "mfa.totp.begin.error", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"ok":      true,
		"secret":  setup.Secret,
		"otpauth": setup.OTPAuthURL,
	}, http.StatusOK)
}

func (h *AuthHandler) TOTPEnable(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "mfa.totp.enable.error", err)
		return
	}

	if err := h.Credentials.EnableTOTP(r.Context(), id.User.ID, req.Secret, req.Code); err != nil {
		writeError(w, h.Logger, "mfa.totp.enable.error", err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *AuthHandler) TOTPImage(w http.ResponseWriter, r *http.Request) {
	png, err := h.Credentials.TOTPImage(r.URL.Query().Get("otpauth"))
	if err != nil {
		writeError(w, h.Logger, "mfa.totp.qr.error", err)
		return
	}
	writePNG(w, png)
}

func (h *AuthHandler) TOTPDisable(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "mfa.totp.disable.error", err)
		return
	}

	if err := h.Credentials.DisableTOTP(r.Context(), id.User.ID, req.Password); err != nil {
		writeError(w, h.Logger, "mfa.totp.disable.error", err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *AuthHandler) QRLoginSetting(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled flexBool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "settings.qr_login.error", err)
		return
	}

	if err := h.Credentials.SetQRLoginEnabled(r.Context(), id.User.ID, bool(req.Enabled)); err != nil {
		writeError(w, h.Logger, "settings.qr_login.error", err)
		return
	}
	h.Logger.Info("settings.qr_login", zap.Int64("user_id", id.User.ID), zap.Bool("enabled", bool(req.Enabled)))
	writeJSON(w, map[string]bool{"ok": true, "enabled": bool(req.Enabled)}, http.StatusOK)
}
