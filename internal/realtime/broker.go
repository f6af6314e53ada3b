// AngelaMos | 2026
// broker.go

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

const channelPrefix = "realtime:"

// Broker publishes events through Redis pub/sub so every API instance sees
// them, and relays what it receives into the local Hub.
type Broker struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewBroker(client *redis.Client, hub *Hub, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		client: client,
		hub:    hub,
		logger: logger,
	}
}

// Publish sends evt to Redis. When Redis is unreachable the event is still
// delivered to local subscribers and the error is returned.
func (b *Broker) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	core.RealtimeEventsPublished.WithLabelValues(tableOf(evt.Topic)).Inc()

	if err := b.client.Publish(ctx, channelPrefix+evt.Topic, payload).Err(); err != nil {
		b.hub.Publish(evt)
		return fmt.Errorf("publish %s: %w", evt.Topic, err)
	}

	return nil
}

// Run relays Redis messages into the Hub until ctx ends.
func (b *Broker) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer func() {
		//nolint:errcheck // best-effort close on shutdown
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe realtime channels: %w", err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *Broker) relay(payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.Warn("dropping malformed realtime message", "error", err)
		return
	}

	if n := b.hub.Publish(evt); n == 0 {
		b.logger.Debug("realtime event had no local subscribers",
			"topic", evt.Topic,
			"type", evt.Type,
		)
	}
}

func tableOf(topic string) string {
	table, _, _ := strings.Cut(topic, ":")
	return table
}
