package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher pushes change events onto the per-organization redis channel.
// Publish failures are logged and swallowed: the confirmed write stands
// regardless of whether the notification went out.
type Publisher struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewPublisher creates a publisher using the given channel prefix.
func NewPublisher(rdb *redis.Client, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix, logger: logger}
}

// Publish sends the event to the organization's channel.
func (p *Publisher) Publish(ctx context.Context, event ChangeEvent) {
	if p.rdb == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("Failed to encode change event", zap.Error(err))
		return
	}
	channel := p.prefix + ":" + event.OrgID
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("Failed to publish change event",
			zap.String("channel", channel),
			zap.Error(err))
	}
}
