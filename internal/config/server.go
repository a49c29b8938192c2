package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig configures the ingest service.
type ServerConfig struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string
	APIKey   string

	SQLitePath            string
	SQLiteDSN             string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration

	// MQTT ingestion is disabled when MQTTBroker is empty.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string
}

func LoadServerFromEnv() (ServerConfig, error) {
	appEnv, level, err := LoadLoggingFromEnv()
	if err != nil {
		return ServerConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("INGEST_API_KEY"))
	if apiKey == "" {
		return ServerConfig{}, fmt.Errorf("INGEST_API_KEY is required")
	}

	maxOpenConnsStr := envOr("DB_MAX_OPEN_CONNS", "1")
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := envOr("DB_MAX_IDLE_CONNS", "1")
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetimeStr := envOr("DB_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	mqttPort, err := envInt("MQTT_PORT", "1883")
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              envOr("HTTP_ADDR", ":8080"),
		APIKey:                apiKey,
		SQLitePath:            envOr("SQLITE_PATH", "data/measurements.db"),
		SQLiteDSN:             strings.TrimSpace(os.Getenv("DB_DSN")),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		MQTTBroker:            strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:              mqttPort,
		MQTTClientID:          envOr("MQTT_CLIENT_ID", "temperature-ingest"),
		MQTTTopic:             envOr("MQTT_TOPIC", "loggers/+/measurements"),
	}, nil
}
