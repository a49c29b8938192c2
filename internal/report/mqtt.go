package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// StatusPublished is returned by MQTT.Submit once the broker acknowledged the
// message.
const StatusPublished = "published"

const publishTimeout = 5 * time.Second

// MQTTOptions configures the MQTT reporter.
type MQTTOptions struct {
	Broker   string
	Port     int
	ClientID string
	Topic    string
	Username string
	Password string
}

// MQTT publishes measurements to a broker at QoS 1.
type MQTT struct {
	client    mqtt.Client
	opts      MQTTOptions
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTT(o MQTTOptions, logger *slog.Logger) (*MQTT, error) {
	if o.Broker == "" {
		return nil, errors.New("report: mqtt broker is required")
	}
	if o.Topic == "" {
		return nil, errors.New("report: mqtt topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &MQTT{
		opts:   o,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect waits for the initial connection. It respects ctx and Disconnect.
func (c *MQTT) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return errors.New("mqtt reporter stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

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
			return ctx.Err()
		case <-c.stopCh:
			return errors.New("mqtt reporter stopped")
		default:
		}
	}
}

// Submit publishes m and waits for the broker acknowledgement.
func (c *MQTT) Submit(ctx context.Context, m telemetry.Measurement) (string, error) {
	if !c.IsConnected() {
		return "", telemetry.NewTransportError("publish", errors.New("mqtt client not connected"))
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", telemetry.NewTransportError("encode", err)
	}

	token := c.client.Publish(c.opts.Topic, 1, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return "", telemetry.NewTransportError("publish", ctx.Err())
	case <-time.After(publishTimeout):
		return "", telemetry.NewTransportError("publish", fmt.Errorf("publish timeout for topic %s", c.opts.Topic))
	}
	if err := token.Error(); err != nil {
		return "", telemetry.NewTransportError("publish", err)
	}

	c.logger.Debug("published measurement", "topic", c.opts.Topic, "logger", m.LoggerID)
	return StatusPublished, nil
}

func (c *MQTT) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect fails.
func (c *MQTT) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *MQTT) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
