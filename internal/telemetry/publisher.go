package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/logging"
)

// Publisher delivers telemetry messages to a broker.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Connected() bool
	Disconnect()
}

// MQTTPublisher is a Publisher backed by paho. The client reconnects on
// its own; Publish fails fast while the link is down.
type MQTTPublisher struct {
	cfg    config.TelemetryConfig
	logger *logging.Logger

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher creates an unconnected publisher.
func NewMQTTPublisher(cfg config.TelemetryConfig, logger *logging.Logger) *MQTTPublisher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &MQTTPublisher{cfg: cfg, logger: logger}
}

// Connect starts the client. If the broker does not answer within the
// connect timeout the client keeps retrying in the background and Connect
// returns nil; only a refused connection is an error.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.client != nil {
		p.mu.Unlock()
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(StatusTopic(p.cfg.TopicPrefix), "offline", 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connection established", "broker", p.cfg.Broker, "client_id", p.cfg.ClientID)
		c.Publish(StatusTopic(p.cfg.TopicPrefix), 1, true, []byte("online"))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", p.cfg.Broker, "error", err)
	}

	p.client = mqtt.NewClient(opts)
	client := p.client
	p.mu.Unlock()

	p.logger.Info("connecting to mqtt broker", "broker", p.cfg.Broker)
	token := client.Connect()

	timeout := p.cfg.ConnectTimeout()
	select {
	case <-token.Done():
	case <-time.After(timeout):
		p.logger.Warn("mqtt broker not reachable yet, retrying in background",
			"broker", p.cfg.Broker, "timeout", timeout.String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Publish sends one message and waits for the broker acknowledgement
// required by qos.
func (p *MQTTPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.RLock()
	client, connected := p.client, p.connected
	p.mu.RUnlock()
	if client == nil || !connected {
		return errors.ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	timeout := p.cfg.ConnectTimeout()
	if !token.WaitTimeout(timeout) {
		return errors.NewTimeoutError("mqtt publish to "+topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}

// Connected reports whether the client currently holds a connection.
func (p *MQTTPublisher) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Disconnect publishes the offline status and closes the connection.
func (p *MQTTPublisher) Disconnect() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.connected = false
	p.mu.Unlock()

	if client == nil {
		return
	}
	if client.IsConnected() {
		client.Publish(StatusTopic(p.cfg.TopicPrefix), 1, true, []byte("offline")).WaitTimeout(time.Second)
	}
	client.Disconnect(250)
	p.logger.Info("mqtt disconnected")
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = v
}
