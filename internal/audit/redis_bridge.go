package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// scanChannel is the pub/sub channel carrying scan envelopes between
// pods.
const scanChannel = "gatepass:scans"

// RedisBridge mirrors scan envelopes across process boundaries so every
// pod's dashboard subscribers see every gate's scans. Each frame carries
// the origin pod id; a pod ignores its own frames to avoid echo.
type RedisBridge struct {
	client *redis.Client
	bus    *Broadcaster
	origin string
}

type bridgeFrame struct {
	Origin   string   `json:"origin"`
	Envelope Envelope `json:"envelope"`
}

func NewRedisBridge(client *redis.Client, bus *Broadcaster) *RedisBridge {
	return &RedisBridge{client: client, bus: bus, origin: uuid.New().String()}
}

// Publish pushes env to the shared channel.
func (b *RedisBridge) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(bridgeFrame{Origin: b.origin, Envelope: env})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, scanChannel, payload).Err()
}

// Run consumes the shared channel and republishes foreign frames to the
// local broadcaster. Blocks until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, scanChannel)
	defer sub.Close()
	slog.Info("audit: redis bridge listening", "channel", scanChannel, "origin", b.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame bridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				slog.Warn("audit: bad bridge frame", "error", err)
				continue
			}
			if frame.Origin == b.origin {
				continue
			}
			b.bus.Publish(frame.Envelope)
		}
	}
}
