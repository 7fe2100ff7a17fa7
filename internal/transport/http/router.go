package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/transport/http/middleware"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
)

type RouterConfig struct {
	AllowedOrigins []string
	Cookies        httputil.CookieSettings
	Logger         *zap.Logger
}

type Handlers struct {
	Auth      *AuthHandler
	Devices   *DeviceHandler
	QRLogin   *QRLoginHandler
	WebAuthn  *WebAuthnHandler
	WebSocket http.Handler
}

func NewRouter(h Handlers, auth middleware.Authenticator, cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(logger, cfg.Cookies.TrustProxy))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	requireAuth := middleware.RequireAuth(auth, cfg.Cookies, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
	})

	r.Route("/api", func(api chi.Router) {
		// ---------------- Public ----------------
		api.Group(func(pub chi.Router) {
			pub.Post("/login", h.Auth.Login)
			pub.Post("/login/totp", h.Auth.LoginTOTP)

			pub.Post("/login/qr/start", h.QRLogin.Start)
			pub.Get("/login/qr/png", h.QRLogin.Image)
			pub.Get("/login/qr/status", h.QRLogin.Status)
			pub.Post("/login/qr/consume", h.QRLogin.Consume)

			pub.Post("/webauthn/login/start", h.WebAuthn.LoginStart)
			pub.Post("/webauthn/login/finish", h.WebAuthn.LoginFinish)
		})

		// ---------------- Authenticated ----------------
		api.Group(func(g chi.Router) {
			g.Use(requireAuth)

			g.Post("/logout", h.Auth.Logout)
			g.Get("/me", h.Auth.Me)
			g.Post("/admin/user", h.Auth.UpdateCredentials)
			g.Post("/settings/qr", h.Auth.QRLoginSetting)

			g.Post("/mfa/totp/begin", h.Auth.TOTPBegin)
			g.Post("/mfa/totp/enable", h.Auth.TOTPEnable)
			g.Get("/mfa/totp/qr", h.Auth.TOTPImage)
			g.Post("/mfa/totp/disable", h.Auth.TOTPDisable)

			g.Get("/devices", h.Devices.List)
			g.Post("/device/alias", h.Devices.UpdateAlias)
			g.Post("/admin/device/delete", h.Devices.Delete)

			g.Post("/login/qr/approve", h.QRLogin.Approve)

			g.Post("/webauthn/register/start", h.WebAuthn.RegisterStart)
			g.Post("/webauthn/register/finish", h.WebAuthn.RegisterFinish)
			g.Get("/webauthn/credentials", h.WebAuthn.Credentials)
			g.Post("/webauthn/credential/delete", h.WebAuthn.DeleteCredential)
		})
	})

	// auth for the push channel is handled by the websocket handler itself
	if h.WebSocket != nil {
		r.Handle("/ws", h.WebSocket)
	}

	return r
}
