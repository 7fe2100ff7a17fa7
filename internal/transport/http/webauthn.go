package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/service/webauthn"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
)

type WebAuthnHandler struct {
	WebAuthn *webauthn.Service
	Cookies  httputil.CookieSettings
	Logger   *zap.Logger
}

func NewWebAuthnHandler(svc *webauthn.Service, cookies httputil.CookieSettings, logger *zap.Logger) *WebAuthnHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebAuthnHandler{WebAuthn: svc, Cookies: cookies, Logger: logger}
}

// relyingParty binds a ceremony to the host and origin the browser used.
func (h *WebAuthnHandler) relyingParty(r *http.Request) webauthn.RelyingParty {
	return webauthn.RelyingParty{
		ID:     httputil.RequestHostname(r),
		Origin: httputil.RequestOrigin(r, h.Cookies.TrustProxy),
	}
}

func (h *WebAuthnHandler) RegisterStart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	start, err := h.WebAuthn.RegisterStart(r.Context(), id.User, h.relyingParty(r))
	if err != nil {
		writeError(w, h.Logger, "webauthn.register.start.error", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"ok":        true,
		"flowId":    start.FlowID,
		"publicKey": start.PublicKey,
	}, http.StatusOK)
}

func (h *WebAuthnHandler) RegisterFinish(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		webauthn.RegistrationResponse
		CredentialID string `json:"credentialId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "webauthn.register.finish.error", err)
		return
	}
	if req.ID == "" {
		req.ID = req.CredentialID
	}

	if _, err := h.WebAuthn.RegisterFinish(r.Context(), id.User.ID, req.RegistrationResponse); err != nil {
		writeError(w, h.Logger, "webauthn.register.finish.error", err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *WebAuthnHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	creds, err := h.WebAuthn.ListCredentials(r.Context(), id.User.ID)
	if err != nil {
		writeError(w, h.Logger, "webauthn.creds.error", err)
		return
	}
	if creds == nil {
		creds = []domain.WebAuthnCredential{}
	}
	writeJSON(w, map[string]interface{}{"ok": true, "credentials": creds}, http.StatusOK)
}

func (h *WebAuthnHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "webauthn.cred.delete.error", err)
		return
	}

	if err := h.WebAuthn.DeleteCredential(r.Context(), id.User.ID, req.ID); err != nil {
		writeError(w, h.Logger, "webauthn.cred.delete.error", err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (h *WebAuthnHandler) LoginStart(w http.ResponseWriter, r *http.Request) {
	start, err := h.WebAuthn.LoginStart(h.relyingParty(r))
	if err != nil {
		writeError(w, h.Logger, "webauthn.login.start.error", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"ok":        true,
		"flowId":    start.FlowID,
		"publicKey": start.PublicKey,
	}, http.StatusOK)
}

func (h *WebAuthnHandler) LoginFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FlowID   string `json:"flowId"`
		ID       string `json:"id"`
		Response struct {
			ClientDataJSON    string `json:"clientDataJSON"`
			AuthenticatorData string `json:"authenticatorData"`
			Signature         string `json:"signature"`
		} `json:"response"`
		DeviceID string   `json:"deviceId"`
		Alias    *string  `json:"alias"`
		Remember flexBool `json:"remember"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Logger, "webauthn.login.finish.error", err)
		return
	}

	issued, err := h.WebAuthn.LoginFinish(r.Context(), webauthn.AssertionResponse{
		FlowID:            req.FlowID,
		ID:                req.ID,
		ClientDataJSON:    req.Response.ClientDataJSON,
		AuthenticatorData: req.Response.AuthenticatorData,
		Signature:         req.Response.Signature,
	}, domain.DeviceUpsert{
		DeviceID:  req.DeviceID,
		Alias:     req.Alias,
		UserAgent: r.UserAgent(),
	}, bool(req.Remember))
	if err != nil {
		writeError(w, h.Logger, "webauthn.login.finish.error", err)
		return
	}
	startSession(w, r, h.Cookies, issued)
}
