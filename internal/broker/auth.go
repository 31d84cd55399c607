package broker

import (
	"bytes"
	"context"
	"errors"
	"time"

	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/keys"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/models"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/pubsub"
)

const lookupTimeout = 5 * time.Second

// KeyLookup resolves an API key to the agent it was issued to.
type KeyLookup interface {
	Lookup(ctx context.Context, key string) (*models.APIKey, error)
}

// keyAuthHook admits clients whose username is an ai_id and whose password
// is an API key issued to it. Clients may only subscribe to their own inbox
// topic and may not publish; the hub publishes through the inline client.
type keyAuthHook struct {
	mqttserver.HookBase
	keys   KeyLookup
	logger zerolog.Logger
}

func newKeyAuthHook(lookup KeyLookup, logger zerolog.Logger) *keyAuthHook {
	return &keyAuthHook{keys: lookup, logger: logger}
}

func (h *keyAuthHook) ID() string {
	return "api-key-auth"
}

func (h *keyAuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqttserver.OnConnectAuthenticate,
		mqttserver.OnACLCheck,
	}, []byte{b})
}

func (h *keyAuthHook) OnConnectAuthenticate(cl *mqttserver.Client, pk packets.Packet) bool {
	agentID := string(pk.Connect.Username)
	key := string(pk.Connect.Password)

	if agentID == "" || !keys.ValidateFormat(key) {
		h.deny(cl, agentID, "missing or malformed credentials")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	rec, err := h.keys.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, keys.ErrUnknownKey) {
			h.logger.Error().Err(err).Str("client", cl.ID).Msg("key lookup failed")
		}
		h.deny(cl, agentID, "unknown API key")
		return false
	}
	if rec.AgentID != agentID {
		h.deny(cl, agentID, "API key belongs to another agent")
		return false
	}
	return true
}

func (h *keyAuthHook) OnACLCheck(cl *mqttserver.Client, topic string, write bool) bool {
	if write {
		return false
	}
	return topic == pubsub.InboxTopic(string(cl.Properties.Username))
}

func (h *keyAuthHook) deny(cl *mqttserver.Client, agentID, reason string) {
	metrics.BlockedRequests.WithLabelValues("mqtt_auth").Inc()
	h.logger.Warn().
		Str("type", "security").
		Str("event", "mqtt_auth_failed").
		Str("client", cl.ID).
		Str("ai_id", agentID).
		Msg(reason)
}
