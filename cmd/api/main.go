package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/config"
	"github.com/iamasit07/mydrop-auth/internal/flow"
	"github.com/iamasit07/mydrop-auth/internal/repository/memory"
	"github.com/iamasit07/mydrop-auth/internal/repository/postgres"
	"github.com/iamasit07/mydrop-auth/internal/repository/redis"
	"github.com/iamasit07/mydrop-auth/internal/service/credential"
	"github.com/iamasit07/mydrop-auth/internal/service/device"
	"github.com/iamasit07/mydrop-auth/internal/service/kick"
	"github.com/iamasit07/mydrop-auth/internal/service/qrlogin"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/internal/service/webauthn"
	transportHttp "github.com/iamasit07/mydrop-auth/internal/transport/http"
	"github.com/iamasit07/mydrop-auth/internal/transport/websocket"
	"github.com/iamasit07/mydrop-auth/pkg/auth"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
	"github.com/iamasit07/mydrop-auth/pkg/logger"
)

type userStore interface {
	credential.UserStore
}

type deviceStore interface {
	session.DeviceRegistry
	device.Registry
}

type credentialStore interface {
	webauthn.CredentialStore
	credential.PasskeyCounter
}

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found")
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx := context.Background()

	// 1. Repositories
	var (
		users   userStore
		devices deviceStore
		creds   credentialStore
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetimeMin)
		if err != nil {
			zl.Fatal("db.open.failed", zap.Error(err))
		}
		defer db.Close()
		zl.Info("db.ready")

		users = postgres.NewUserRepo(db)
		devices = postgres.NewDeviceRepo(db)
		creds = postgres.NewWebAuthnRepo(db)
	} else {
		if cfg.Environment == "production" {
			zl.Fatal("db.missing", zap.String("hint", "DATABASE_URL is required in production"))
		}
		zl.Warn("db.memory", zap.String("hint", "DATABASE_URL not set, data lives in memory only"))
		users = memory.NewUserRepo()
		devices = memory.NewDeviceRepo()
		creds = memory.NewWebAuthnRepo()
	}

	// 1b. Optional user cache
	var cache session.CacheRepository
	if cfg.RedisEnabled {
		if client := redis.NewClient(ctx, cfg.RedisURL, cfg.RedisPassword, zl); client != nil {
			defer client.Close()
			cache = redis.NewRedisCache(client)
		}
	}

	// 2. Services
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		zl.Fatal("token.issuer.failed", zap.Error(err))
	}
	sessions := session.NewService(users, devices, tokens, session.Options{
		RememberTTL: cfg.RememberTTL,
		TempTTL:     cfg.TempLoginTTL,
		Cache:       cache,
		Logger:      zl,
	})

	flows := flow.NewStores(flow.TTLs{Flow: cfg.FlowTTL, QR: cfg.QRTTL, Sweep: cfg.SweepInterval}, zl)
	defer flows.Close()

	registry := kick.NewRegistry(zl)
	credentials := credential.NewService(users, creds, sessions, registry, flows, cfg.RPName, zl)
	devicesSvc := device.NewService(devices, registry, zl)
	broker := qrlogin.NewBroker(flows.QR, users, sessions, zl)
	passkeys := webauthn.NewService(creds, users, sessions, flows, cfg.RPName, zl)

	created, err := credentials.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		zl.Fatal("bootstrap.failed", zap.Error(err))
	}
	if created && cfg.Environment == "production" {
		zl.Warn("bootstrap.default_password", zap.String("username", cfg.AdminUsername))
	}

	// 3. Transport
	cookies := httputil.CookieSettings{Name: cfg.TokenCookieName, TrustProxy: cfg.TrustProxy}
	router := transportHttp.NewRouter(transportHttp.Handlers{
		Auth:      transportHttp.NewAuthHandler(credentials, registry, cookies, zl),
		Devices:   transportHttp.NewDeviceHandler(devicesSvc, cookies, zl),
		QRLogin:   transportHttp.NewQRLoginHandler(broker, cookies, zl),
		WebAuthn:  transportHttp.NewWebAuthnHandler(passkeys, cookies, zl),
		WebSocket: websocket.NewHandler(sessions, registry, cookies, cfg.AllowedOrigins, zl),
	}, sessions, transportHttp.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Cookies:        cookies,
		Logger:         zl,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("server.starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server.error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	zl.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server.forced_shutdown", zap.Error(err))
	}
	zl.Info("server.exited")
}
