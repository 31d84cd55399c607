// Package broker runs an embedded MQTT broker that agents can subscribe to
// for live inbox notifications.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"
)

// Options configures the embedded broker. An empty address disables that listener.
type Options struct {
	TCPAddr string
	WSAddr  string
	// Keys authenticates MQTT clients: username is the ai_id, password the API key.
	Keys KeyLookup
}

// Broker wraps a mochi MQTT server with TCP and WebSocket listeners.
type Broker struct {
	server *mqttserver.Server
	opts   Options
	logger zerolog.Logger
}

// New configures a broker. It does not listen until Start is called.
func New(opts Options, logger zerolog.Logger) (*Broker, error) {
	if opts.Keys == nil {
		return nil, errors.New("broker needs a key lookup to authenticate clients")
	}

	logger = logger.With().Str("component", "mqtt").Logger()
	server := mqttserver.New(&mqttserver.Options{
		InlineClient: true,
		Logger:       slog.New(newSlogHandler(logger)),
	})

	if err := server.AddHook(newKeyAuthHook(opts.Keys, logger), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}

	if opts.TCPAddr != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "hub-tcp", Address: opts.TCPAddr})
		if err := server.AddListener(tcp); err != nil {
			return nil, fmt.Errorf("add tcp listener: %w", err)
		}
	}
	if opts.WSAddr != "" {
		ws := listeners.NewWebsocket(listeners.Config{ID: "hub-ws", Address: opts.WSAddr})
		if err := server.AddListener(ws); err != nil {
			return nil, fmt.Errorf("add websocket listener: %w", err)
		}
	}

	return &Broker{server: server, opts: opts, logger: logger}, nil
}

// Start begins serving in the background.
func (b *Broker) Start() {
	go func() {
		if err := b.server.Serve(); err != nil {
			b.logger.Error().Err(err).Msg("mqtt broker stopped")
		}
	}()
	b.logger.Info().
		Str("tcp", b.opts.TCPAddr).
		Str("ws", b.opts.WSAddr).
		Msg("MQTT broker started")
}

// Publish delivers payload to subscribers of topic through the inline client.
func (b *Broker) Publish(topic string, payload []byte, qos byte) error {
	return b.server.Publish(topic, payload, false, qos)
}

// Clients returns the number of currently connected MQTT clients.
func (b *Broker) Clients() int64 {
	return atomic.LoadInt64(&b.server.Info.ClientsConnected)
}

// Close stops all listeners and disconnects clients.
func (b *Broker) Close() error {
	return b.server.Close()
}
