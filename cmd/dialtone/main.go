// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/sprucehealth/dialtone/auth"
	"github.com/sprucehealth/dialtone/backend"
	"github.com/sprucehealth/dialtone/console"
	"github.com/sprucehealth/dialtone/dialer"
	"github.com/sprucehealth/dialtone/history"
	"github.com/sprucehealth/dialtone/logging"
	"github.com/sprucehealth/dialtone/settings"
	"github.com/sprucehealth/dialtone/store"
)

type config struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	Origin   string `envconfig:"ORIGIN" default:"http://localhost:8080"`
	DBPath   string `envconfig:"DB_PATH" default:"dialtone.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

func main() {
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("dialtone", &cfg); err != nil {
		panic(err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logger.Sync()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}

	defaults, err := settings.DefaultsFromEnv()
	if err != nil {
		logger.Fatal("reading settings defaults", zap.Error(err))
	}
	cfgStore := settings.New(db, defaults)
	ledger := history.New(db, logger)
	api := backend.New()

	provider := auth.NewMemoryProvider(&auth.LogMailer{Logger: logger}, logger)

	// TODO: swap the mock factory for a pion/webrtc transport once the
	// backend exposes a media gateway; the capability interface is already
	// shaped for it.
	factory := func(token string) (dialer.VoiceClient, error) {
		return dialer.NewMockVoiceClient(token), nil
	}

	serverCtrl := dialer.NewServerController(api, ledger, cfgStore, dialer.WithLogger(logger))
	clientCtrl := dialer.NewClientController(api, ledger, cfgStore, factory, cfg.Origin, dialer.WithLogger(logger))

	// Bring the voice client up front if an agent is already configured.
	if err := clientCtrl.RegisterIfNeeded(context.Background()); err != nil {
		logger.Warn("voice registration at startup failed", zap.Error(err))
	}

	srv, err := console.NewServer(ledger, cfgStore, serverCtrl, clientCtrl, provider, logger, cfg.Addr)
	if err != nil {
		logger.Fatal("building console", zap.Error(err))
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("console server", zap.Error(err))
		}
	}()

	// First interrupt while a call is live only warns; a second one, or
	// any interrupt with no live call, shuts down.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	if clientCtrl.ActiveCall() || serverCtrl.Polling() {
		logger.Warn("a call is still active, interrupt again to shut down anyway")
		<-sig
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := clientCtrl.Unregister(); err != nil {
		logger.Warn("voice client teardown failed", zap.Error(err))
	}
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("console shutdown failed", zap.Error(err))
	}
	logger.Info("shut down")
}
