package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// inlineServer adapts a mochi server to the inline publishing interface.
type inlineServer struct {
	*mqttserver.Server
}

func (s inlineServer) Publish(topic string, payload []byte, qos byte) error {
	return s.Server.Publish(topic, payload, false, qos)
}

// startBroker runs an open MQTT broker, standing in for an external one.
func startBroker(t *testing.T) (inlineServer, string) {
	t.Helper()
	addr := freeAddr(t)

	server := mqttserver.New(&mqttserver.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{ID: "test", Address: addr})))

	go func() { _ = server.Serve() }()
	t.Cleanup(func() { _ = server.Close() })
	return inlineServer{server}, "tcp://" + addr
}

func subscribe(t *testing.T, url, topic string) <-chan []byte {
	t.Helper()
	got := make(chan []byte, 4)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(fmt.Sprintf("test-sub-%d", time.Now().UnixNano()))
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(50 * time.Millisecond)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "connect timed out")
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	token = client.Subscribe(topic, QoS, func(_ mqtt.Client, m mqtt.Message) {
		got <- m.Payload()
	})
	require.True(t, token.WaitTimeout(5*time.Second), "subscribe timed out")
	require.NoError(t, token.Error())
	return got
}

func TestInboxTopic(t *testing.T) {
	assert.Equal(t, "ai/agent-1/inbox", InboxTopic("agent-1"))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "x", nil))
	assert.Equal(t, "none", p.Name())
	p.Close()
}

func TestBrokerPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	b, url := startBroker(t)
	got := subscribe(t, url, InboxTopic("bob"))

	p := NewBrokerPublisher(b)
	require.NoError(t, p.Publish(context.Background(), InboxTopic("bob"), []byte(`{"id":"1"}`)))

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"id":"1"}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt64(&b.Info.ClientsConnected), int64(1))
}

func TestMQTTPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	_, url := startBroker(t)
	got := subscribe(t, url, "ai/+/inbox")

	p, err := NewMQTTPublisher(MQTTOptions{URL: url, Timeout: 5 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), InboxTopic("carol"), []byte(`"hi"`)))

	select {
	case payload := <-got:
		assert.Equal(t, `"hi"`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestBrokerPublisherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewBrokerPublisher(failingBroker{})
	assert.ErrorIs(t, p.Publish(ctx, "t", nil), context.Canceled)
	assert.Error(t, p.Publish(context.Background(), "t", nil))
}

type failingBroker struct{}

func (failingBroker) Publish(string, []byte, byte) error { return errors.New("broker down") }
