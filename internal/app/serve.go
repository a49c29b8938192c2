package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bbeesley/temperature-logger/internal/config"
	"github.com/bbeesley/temperature-logger/internal/ingest"
	"github.com/bbeesley/temperature-logger/internal/store"
)

const (
	shutdownTimeout    = 10 * time.Second
	mqttConnectTimeout = 5 * time.Second
)

// Serve runs the ingest service until ctx is cancelled.
func Serve(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"mqttBroker", cfg.MQTTBroker,
		"mqttTopic", cfg.MQTTTopic,
	)

	db, err := OpenIngestDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(db); err != nil {
			logger.Error("db close", "error", err)
		}
	}()

	repo := store.NewMeasurementRepository(db)
	api := ingest.NewAPI(repo, db, cfg.APIKey, logger)
	srv := ingest.NewServer(cfg.HTTPAddr, ingest.NewMux(api), logger)

	var sub *ingest.Subscriber
	if cfg.MQTTBroker != "" {
		sub, err = ingest.NewSubscriber(ingest.SubscriberOptions{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
		}, logger)
		if err != nil {
			return err
		}
		// Set before Connect so the first messages after CONNACK are handled.
		sub.SetMessageHandler(ingest.StoreHandler(repo, logger))

		connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err = sub.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if sub != nil {
			sub.Disconnect()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sub != nil {
		logger.Info("mqtt disconnecting")
		sub.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
