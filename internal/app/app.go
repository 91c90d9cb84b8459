// Package app wires the engine together: configuration, logging, metrics,
// the auth facade and the local control API server.
package app

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"keygate/internal/api"
	"keygate/internal/auth"
	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/revocation"
	"keygate/internal/security"
	"keygate/internal/session"
	"keygate/internal/store"
	"keygate/internal/transport"
)

// Version is injected at build time
var Version = "dev"

// Application owns the engine's long-lived components
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *infrastructure.Telemetry
	Service   *auth.Service
	Hub       *api.EventHub
	Server    *http.Server
}

// NewApplication builds the engine from configuration
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	telemetry, err := infrastructure.InitializeTelemetry(Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	metrics, err := auth.NewMetrics(telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	storePath, err := cfg.StorePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}

	fingerprint := security.NewFingerprintManager()

	// The store salt binds sealed records to this installation
	fp, err := fingerprint.GenerateFingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint device: %w", err)
	}
	salt := sha256.Sum256([]byte("keygate-store|" + fp.Fingerprint))

	credStore, err := store.New(storePath, salt[:], logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	client, err := transport.NewClient(transport.Config{
		PrimaryURL:       cfg.Auth.PrimaryURL,
		AlternateURL:     cfg.Auth.AlternateURL,
		PushURL:          cfg.Auth.PushURL,
		AppName:          cfg.Auth.AppName,
		AppOwner:         cfg.Auth.AppOwner,
		AppVersion:       cfg.Auth.AppVersion,
		HTTPTimeout:      cfg.Auth.HTTPTimeout,
		HandshakeTimeout: cfg.Push.HandshakeTimeout,
		PongWait:         cfg.Push.PongWait,
	}, cfg.SigningKey(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport client: %w", err)
	}

	machine := session.NewMachine(session.Policy{
		GracePeriod:        cfg.Policy.GracePeriod,
		ClockSkewTolerance: cfg.Policy.ClockSkewTolerance,
	}, logger)

	service := auth.NewService(auth.Deps{
		Machine:         machine,
		Store:           credStore,
		Validator:       client,
		Subscriber:      client,
		Fingerprint:     fingerprint,
		Metrics:         metrics,
		Logger:          logger,
		RenewalInterval: cfg.Policy.RenewalInterval,
		Backoff: revocation.Backoff{
			Base:        cfg.Push.ReconnectBase,
			Max:         cfg.Push.ReconnectMax,
			MaxAttempts: cfg.Push.MaxReconnects,
		},
	})

	hub := api.NewEventHub(logger)
	handler := api.NewHandler(service, hub, telemetry.MetricsHTTP,
		cfg.Policy.LoginRateRPS, cfg.Policy.LoginRateBurst, logger)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:    cfg,
		Logger:    logger,
		Telemetry: telemetry,
		Service:   service,
		Hub:       hub,
		Server:    server,
	}, nil
}

// Run starts the engine and blocks until an interrupt signal arrives
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start auth service: %w", err)
	}

	go a.Hub.Run(ctx, a.Service.Events())

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Control API listening",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version),
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("control API server failed: %w", err)
	case sig := <-sigCh:
		a.Logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)
	}

	return a.shutdown(ctx)
}

func (a *Application) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Control API shutdown failed",
			slog.String("error", err.Error()),
		)
	}

	a.Service.Close()

	if err := a.Telemetry.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Telemetry shutdown failed",
			slog.String("error", err.Error()),
		)
	}

	infrastructure.CloseLogFile()
	return nil
}
