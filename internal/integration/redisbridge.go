package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultBusChannel = "duealert:interactions"

// busEnvelope is the message shape stored in Redis Pub/Sub. Origin lets a
// process ignore its own publications.
type busEnvelope struct {
	Origin string         `json:"origin"`
	Name   string         `json:"name"`
	Detail map[string]any `json:"detail,omitempty"`
	SentAt time.Time      `json:"sent_at"`
}

// LocalEmitter receives events that arrived from other processes.
type LocalEmitter interface {
	EmitLocal(name string, detail map[string]any)
}

// RedisBridge fans interaction events out to every duealert process of the
// same user through a Redis channel. Without it the bus stays
// process-local.
type RedisBridge struct {
	client  *redis.Client
	channel string
	origin  string
	log     logrus.FieldLogger
}

// NewRedisBridge creates a bridge on channel.
func NewRedisBridge(client *redis.Client, channel string, log logrus.FieldLogger) *RedisBridge {
	if channel == "" {
		channel = defaultBusChannel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log.WithField("component", "redis-bridge"),
	}
}

// Publish implements core.Bridge.
func (b *RedisBridge) Publish(name string, detail map[string]any) error {
	body, err := b.encode(name, detail)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("publishing %s to redis: %w", name, err)
	}
	return nil
}

func (b *RedisBridge) encode(name string, detail map[string]any) ([]byte, error) {
	body, err := json.Marshal(busEnvelope{Origin: b.origin, Name: name, Detail: detail, SentAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding bus envelope: %w", err)
	}
	return body, nil
}

// Run subscribes to the channel and replays remote events into bus until
// ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context, bus LocalEmitter) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to redis channel %s: %w", b.channel, err)
	}
	b.log.WithField("channel", b.channel).Info("redis bus bridge subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(bus, []byte(msg.Payload))
		}
	}
}

// deliver forwards one remote payload. Own and malformed envelopes are
// dropped.
func (b *RedisBridge) deliver(bus LocalEmitter, payload []byte) bool {
	var env busEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.WithError(err).Warn("discarding malformed bus envelope")
		return false
	}
	if env.Origin == b.origin || env.Name == "" {
		return false
	}
	bus.EmitLocal(env.Name, env.Detail)
	return true
}
