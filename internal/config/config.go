package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

const defaultSecretsFile = "secrets.env"

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	LoggerID        string
	APIKey          string
	Endpoint        string
	Interval        time.Duration
	RequestTimeout  time.Duration
	Transport       string
	TransportPolicy telemetry.TransportPolicy

	SensorKind    string
	I2CBus        string
	BME280Address uint16

	PowerSource         string
	GaugeAddress        uint16
	GaugePackSize       int
	ADCAddress          uint16
	ADCChannel          int
	DividerCalibration  float64
	DividerRawFullScale int
	VBUSPin             string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	JournalPath string

	MatrixEnabled  bool
	MatrixSPIPort  string
	MatrixPowerPin string
	MatrixShape    string
	MatrixTrail    int
	MatrixTick     time.Duration
}

// LoadSecrets seeds the process environment from a dotenv file. Variables
// already set in the environment win. A missing default file is not an error;
// a missing file named explicitly through SECRETS_FILE is.
func LoadSecrets() error {
	path := strings.TrimSpace(os.Getenv("SECRETS_FILE"))
	explicit := path != ""
	if !explicit {
		path = defaultSecretsFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load secrets %q: %w", path, err)
	}
	return nil
}

// LoadLoggingFromEnv reads APP_ENV and LOG_LEVEL, the settings shared by
// every command.
func LoadLoggingFromEnv() (string, slog.Level, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return "", slog.LevelInfo, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return "", slog.LevelInfo, err
	}
	return appEnv, level, nil
}

func LoadFromEnv() (Config, error) {
	appEnv, level, err := LoadLoggingFromEnv()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:   appEnv,
		LogLevel: level,
		LoggerID: envOr("LOGGER_ID", "compact-logger-01"),
		APIKey:   strings.TrimSpace(os.Getenv("LOGGER_API_KEY")),
		Endpoint: strings.TrimSpace(os.Getenv("LOGGER_ENDPOINT")),
	}

	if cfg.Interval, err = envDuration("LOGGER_INTERVAL", "60s"); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = envDuration("LOGGER_REQUEST_TIMEOUT", "15s"); err != nil {
		return Config{}, err
	}

	cfg.Transport = strings.ToLower(envOr("LOGGER_TRANSPORT", "https"))
	switch cfg.Transport {
	case "https", "mqtt":
	default:
		return Config{}, fmt.Errorf("invalid LOGGER_TRANSPORT %q (allowed: https, mqtt)", cfg.Transport)
	}
	if cfg.TransportPolicy, err = telemetry.ParseTransportPolicy(envOr("LOGGER_TRANSPORT_POLICY", "continue")); err != nil {
		return Config{}, err
	}

	if cfg.Transport == "https" && cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return Config{}, fmt.Errorf("invalid LOGGER_ENDPOINT %q (expected an http(s) URL)", cfg.Endpoint)
		}
	}

	cfg.SensorKind = strings.ToLower(envOr("SENSOR_KIND", "bme280"))
	switch cfg.SensorKind {
	case "bme280", "none":
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_KIND %q (allowed: bme280, none)", cfg.SensorKind)
	}
	cfg.I2CBus = strings.TrimSpace(os.Getenv("I2C_BUS"))
	if cfg.BME280Address, err = envAddress("BME280_ADDRESS", "0x77"); err != nil {
		return Config{}, err
	}

	cfg.PowerSource = strings.ToLower(envOr("POWER_SOURCE", "none"))
	switch cfg.PowerSource {
	case "gauge", "divider", "none":
	default:
		return Config{}, fmt.Errorf("invalid POWER_SOURCE %q (allowed: gauge, divider, none)", cfg.PowerSource)
	}
	if cfg.GaugeAddress, err = envAddress("GAUGE_ADDRESS", "0x0B"); err != nil {
		return Config{}, err
	}
	if cfg.GaugePackSize, err = envInt("GAUGE_PACK_SIZE", "3000"); err != nil {
		return Config{}, err
	}
	if cfg.ADCAddress, err = envAddress("ADC_ADDRESS", "0x48"); err != nil {
		return Config{}, err
	}
	if cfg.ADCChannel, err = envInt("ADC_CHANNEL", "0"); err != nil {
		return Config{}, err
	}
	if cfg.ADCChannel < 0 || cfg.ADCChannel > 3 {
		return Config{}, fmt.Errorf("ADC_CHANNEL must be 0-3, got %d", cfg.ADCChannel)
	}
	if cfg.DividerCalibration, err = envFloat("DIVIDER_CALIBRATION", "5370"); err != nil {
		return Config{}, err
	}
	if cfg.DividerCalibration <= 0 {
		return Config{}, fmt.Errorf("DIVIDER_CALIBRATION must be positive, got %v", cfg.DividerCalibration)
	}
	if cfg.DividerRawFullScale, err = envInt("DIVIDER_RAW_FULL_SCALE", "32767"); err != nil {
		return Config{}, err
	}
	if cfg.DividerRawFullScale <= 0 || cfg.DividerRawFullScale > math.MaxInt32 {
		return Config{}, fmt.Errorf("DIVIDER_RAW_FULL_SCALE must be in 1..%d, got %d", math.MaxInt32, cfg.DividerRawFullScale)
	}
	cfg.VBUSPin = strings.TrimSpace(os.Getenv("VBUS_PIN"))

	cfg.MQTTBroker = envOr("MQTT_BROKER", "localhost")
	if cfg.MQTTPort, err = envInt("MQTT_PORT", "1883"); err != nil {
		return Config{}, err
	}
	cfg.MQTTClientID = envOr("MQTT_CLIENT_ID", cfg.LoggerID)
	cfg.MQTTTopic = envOr("MQTT_TOPIC", "loggers/"+cfg.LoggerID+"/measurements")

	cfg.JournalPath = strings.TrimSpace(os.Getenv("JOURNAL_PATH"))

	if cfg.MatrixEnabled, err = envBool("MATRIX_ENABLED", "false"); err != nil {
		return Config{}, err
	}
	cfg.MatrixSPIPort = strings.TrimSpace(os.Getenv("MATRIX_SPI_PORT"))
	cfg.MatrixPowerPin = strings.TrimSpace(os.Getenv("MATRIX_POWER_PIN"))
	cfg.MatrixShape = envOr("MATRIX_SHAPE", "spiral")
	if cfg.MatrixTrail, err = envInt("MATRIX_TRAIL", "5"); err != nil {
		return Config{}, err
	}
	if cfg.MatrixTick, err = envDuration("MATRIX_TICK", "50ms"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Identity returns the device identity carried by cfg.
func (c Config) Identity() telemetry.Identity {
	return telemetry.Identity{
		LoggerID: c.LoggerID,
		APIKey:   c.APIKey,
		Endpoint: c.Endpoint,
	}
}

// ValidateReporting checks the settings needed to submit measurements.
func (c Config) ValidateReporting() error {
	if c.APIKey == "" {
		return errors.New("LOGGER_API_KEY is required")
	}
	if c.Transport == "https" && c.Endpoint == "" {
		return errors.New("LOGGER_ENDPOINT is required for the https transport")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDuration(key, def string) (time.Duration, error) {
	s := envOr(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func envInt(key, def string) (int, error) {
	s := envOr(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envFloat(key, def string) (float64, error) {
	s := envOr(key, def)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return f, nil
}

func envBool(key, def string) (bool, error) {
	s := envOr(key, def)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func envAddress(key, def string) (uint16, error) {
	s := envOr(key, def)
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return uint16(v), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
