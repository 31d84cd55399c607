// Package pubsub publishes live inbox notifications to MQTT topics.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/crypto"
)

// QoS used for inbox notifications: at least once.
const QoS byte = 1

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("publish timed out")

// Publisher sends payloads to topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Name() string
	Close()
}

// InboxTopic is the topic an agent subscribes to for its new messages.
func InboxTopic(agentID string) string {
	return "ai/" + agentID + "/inbox"
}

// NopPublisher drops everything.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (NopPublisher) Name() string                                  { return "none" }
func (NopPublisher) Close()                                        {}

// inlineBroker is the part of broker.Broker a BrokerPublisher needs.
type inlineBroker interface {
	Publish(topic string, payload []byte, qos byte) error
}

// BrokerPublisher publishes through an embedded broker's inline client.
type BrokerPublisher struct {
	broker inlineBroker
}

// NewBrokerPublisher wraps an embedded broker.
func NewBrokerPublisher(b inlineBroker) *BrokerPublisher {
	return &BrokerPublisher{broker: b}
}

func (p *BrokerPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.broker.Publish(topic, payload, QoS)
}

func (p *BrokerPublisher) Name() string { return "embedded" }

// Close is a no-op; the broker is closed by its owner.
func (p *BrokerPublisher) Close() {}

// MQTTOptions configures a connection to an external broker.
type MQTTOptions struct {
	URL      string // e.g. tcp://localhost:1883
	ClientID string // generated when empty
	Username string
	Password string
	Timeout  time.Duration
}

// MQTTPublisher publishes to an external broker with paho.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMQTTPublisher connects to the broker at opts.URL.
func NewMQTTPublisher(opts MQTTOptions, logger zerolog.Logger) (*MQTTPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "openclaw-hub-" + crypto.NewUUIDv7().String()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.URL)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(opts.Timeout)
	co.OnConnect = func(mqtt.Client) {
		logger.Info().Str("broker", opts.URL).Msg("Connected to MQTT")
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("connect to %s: %w", opts.URL, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.URL, err)
	}

	return &MQTTPublisher{client: client, timeout: opts.Timeout, logger: logger}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	token := p.client.Publish(topic, QoS, false, payload)
	if !token.WaitTimeout(timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Close disconnects, giving in-flight messages a moment to drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
