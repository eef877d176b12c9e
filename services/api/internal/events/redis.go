package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultChannelPrefix = "roxy"

// Envelope is what subscribers receive on every channel.
type Envelope struct {
	Topic     string          `json:"topic"`
	TenantID  string          `json:"tenantId"`
	Payload   json.RawMessage `json:"payload"`
	Published time.Time       `json:"publishedAt"`
}

// RedisPublisher fans events out over Redis pub/sub. Each event goes to
// the tenant channel "<prefix>:<tenant>:<topic>", and broadcast events also
// to "<prefix>:broadcast:<topic>".
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

func NewRedisPublisher(client redis.UniversalClient, prefix string, log *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPublisher{client: client, prefix: prefix, log: log, now: time.Now}
}

func (p *RedisPublisher) TenantChannel(tenantID, topic string) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, tenantID, topic)
}

func (p *RedisPublisher) BroadcastChannel(topic string) string {
	return fmt.Sprintf("%s:broadcast:%s", p.prefix, topic)
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any, opts app.PublishOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	msg, err := json.Marshal(Envelope{
		Topic:     topic,
		TenantID:  opts.TenantID,
		Payload:   body,
		Published: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", topic, err)
	}

	channels := []string{p.TenantChannel(opts.TenantID, topic)}
	if opts.Broadcast {
		channels = append(channels, p.BroadcastChannel(topic))
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(channels))
	for _, ch := range channels {
		cmds = append(cmds, pipe.Publish(ctx, ch, msg))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	for i, cmd := range cmds {
		p.log.Debug("event published",
			zap.String("channel", channels[i]),
			zap.Int64("receivers", cmd.Val()),
		)
	}
	return nil
}
