package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bbeesley/temperature-logger/internal/store"
	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// SubscriberOptions configures the MQTT ingestion path.
type SubscriberOptions struct {
	Broker   string
	Port     int
	ClientID string
	// Topic may hold wildcards, e.g. loggers/+/measurements.
	Topic string
}

// Subscriber receives measurements published by loggers on the MQTT
// transport and hands them to a handler.
type Subscriber struct {
	client    mqtt.Client
	opts      SubscriberOptions
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	handler func(m telemetry.Measurement) error
}

func NewSubscriber(o SubscriberOptions, logger *slog.Logger) (*Subscriber, error) {
	if o.Broker == "" || o.Topic == "" {
		return nil, errors.New("ingest: mqtt broker and topic are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		opts:   o,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Resubscribe on every (re)connect; the session is clean.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port)
		if err := s.subscribe(); err != nil {
			logger.Error("mqtt subscribe failed", "topic", o.Topic, "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// SetMessageHandler must be called before Connect.
func (s *Subscriber) SetMessageHandler(h func(m telemetry.Measurement) error) {
	s.handler = h
}

// Connect waits for the initial connection. It respects ctx and Disconnect.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return errors.New("subscriber stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return errors.New("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe() error {
	const qos = byte(1)
	token := s.client.Subscribe(s.opts.Topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.opts.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.opts.Topic, err)
	}

	s.logger.Info("subscribed to mqtt topic", "topic", s.opts.Topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	m, err := decodeMeasurement(bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("failed to parse measurement message", "topic", topic, "error", err)
		return
	}
	if err := validateTopic(topic, m); err != nil {
		s.logger.Warn("invalid measurement message", "topic", topic, "logger", m.LoggerID, "error", err)
		return
	}

	if s.handler == nil {
		return
	}
	if err := s.handler(m); err != nil {
		s.logger.Error("message handler failed", "topic", topic, "logger", m.LoggerID, "error", err)
		return
	}
	s.logger.Debug("processed measurement message", "logger", m.LoggerID)
}

// validateTopic rejects messages whose logger does not match the
// loggers/<id>/measurements topic they arrived on.
func validateTopic(topic string, m telemetry.Measurement) error {
	if m.LoggerID == "" {
		return errors.New("logger is required")
	}
	parts := strings.Split(topic, "/")
	if len(parts) == 3 && parts[0] == "loggers" && parts[2] == "measurements" && parts[1] != m.LoggerID {
		return fmt.Errorf("logger %q published on topic of %q", m.LoggerID, parts[1])
	}
	return nil
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect is idempotent.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.opts.Topic)
		token.WaitTimeout(2 * time.Second)
	}
	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// StoreHandler persists every received measurement.
func StoreHandler(repo store.MeasurementRepository, logger *slog.Logger) func(m telemetry.Measurement) error {
	return func(m telemetry.Measurement) error {
		id, err := repo.Insert(context.Background(), m, time.Now(), store.SourceMQTT)
		if err != nil {
			return fmt.Errorf("store measurement: %w", err)
		}
		logger.Debug("stored mqtt measurement", "logger", m.LoggerID, "id", id)
		return nil
	}
}
