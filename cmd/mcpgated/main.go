// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/mcpgate/mcpgate/api"
	"github.com/mcpgate/mcpgate/config"
	"github.com/mcpgate/mcpgate/mcp"
	"github.com/mcpgate/mcpgate/metrics"
	"github.com/mcpgate/mcpgate/secrets"
	"github.com/mcpgate/mcpgate/store"
)

var version = "dev"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	settings, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		log.WithField("level", settings.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	fernetKey := settings.FernetKey
	if fernetKey == "" {
		fernetKey, err = secrets.GenerateKey()
		if err != nil {
			log.WithError(err).Fatal("Failed to generate fernet key")
		}
		log.Warn("MCPGATE_FERNET_KEY is not set; generated an ephemeral key, stored secrets will not survive a restart")
	}
	protector, err := secrets.NewProtector(fernetKey)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize secret protection")
	}

	db, err := sqlx.Connect("postgres", settings.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := store.SetupTables(db); err != nil {
		log.WithError(err).Fatal("Failed to set up database tables")
	}

	sqlStore := store.New(db, log)
	metricsService := metrics.NewMetrics(metrics.InstanceInfo{Version: version})

	resolver := mcp.NewResolver(sqlStore, sqlStore, log)
	injector := mcp.NewSecretInjector(sqlStore, protector, log)
	connector := mcp.NewConnector(mcp.TransportFactory{}, injector, settings.ConnectAttempts, settings.ConnectRetryDelay, log)
	manager := mcp.NewClientManager(resolver, connector, mcp.ManagerConfig{
		SlidingTTL:      settings.SlidingTTL,
		AbsoluteTTL:     settings.AbsoluteTTL,
		CleanupInterval: settings.CleanupInterval,
		StatusTTL:       settings.StatusTTL,
		ProbeTimeout:    settings.ProbeTimeout,
	}, log, metricsService)
	defer manager.Close()

	server := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           api.New(manager, metricsService, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", settings.HTTPAddr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
}
