package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"arcadechat/internal/config"
	"arcadechat/internal/conversation"
	"arcadechat/internal/directory"
	"arcadechat/internal/identity"
	"arcadechat/internal/store"
	"arcadechat/internal/telemetry"
	"arcadechat/internal/transport"
)

// app holds the wired-up client components for one process lifetime.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	ident  *identity.Store
	conv   *conversation.Conversation
	echo   *echoWriter

	telemetryCleanup func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if debug {
		cfg.Debug = true
	}

	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, err
	}

	_, _, telemetryCleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0755); err != nil {
		telemetryCleanup()
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	st, err := store.Open(cfg.StatePath, logger)
	if err != nil {
		telemetryCleanup()
		return nil, err
	}

	ident := identity.New(logger)
	userID, err := st.UserID()
	if err != nil {
		logger.Warn("failed to restore user identity", "error", err)
	}
	token, err := st.AuthToken()
	if err != nil {
		logger.Warn("failed to restore auth token", "error", err)
	}
	ident.Restore(userID, token)
	ident.Subscribe(func(userID string) {
		if err := st.SetUserID(userID); err != nil {
			logger.Error("failed to persist user identity", "error", err)
		}
	})

	sender := transport.New(transport.Config{
		BaseURL: cfg.ServerURL,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	dir := directory.New(directory.Config{
		BaseURL:  cfg.ServerURL,
		Identity: ident,
		Titles:   st,
		Logger:   logger,
	})

	echo := &echoWriter{w: os.Stdout}
	conv := conversation.New(conversation.Config{
		Transport:    sender,
		Directory:    dir,
		Identity:     ident,
		Logger:       logger,
		Echo:         echo,
		HistoryLimit: cfg.HistoryLimit,
		PageSize:     cfg.PageSize,
	})

	return &app{
		cfg:              cfg,
		logger:           logger,
		store:            st,
		ident:            ident,
		conv:             conv,
		echo:             echo,
		telemetryCleanup: telemetryCleanup,
	}, nil
}

func (a *app) Close() {
	a.conv.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close state store", "error", err)
	}
	a.telemetryCleanup()
}
