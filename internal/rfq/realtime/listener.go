package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenerConfig bounds the reconnect behaviour of the change feed.
type ListenerConfig struct {
	ChannelPrefix string
	BufferSize    int
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxReconnects int
}

// Listener subscribes to the change channels of every organization and
// feeds decoded events onto a buffered channel consumed by the
// reconciliation loop. On connection loss it retries with bounded
// exponential backoff; OnDown/OnUp callbacks let the owner mark local
// state stale while disconnected.
type Listener struct {
	rdb    *redis.Client
	cfg    ListenerConfig
	logger *zap.Logger

	events chan ChangeEvent

	// OnDown fires when the feed is lost, OnUp when it is re-established.
	OnDown func()
	OnUp   func()
}

// NewListener creates a listener; Run must be started on its own goroutine.
func NewListener(rdb *redis.Client, cfg ListenerConfig, logger *zap.Logger) *Listener {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	return &Listener{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
		events: make(chan ChangeEvent, cfg.BufferSize),
	}
}

// Events is the stream consumed by the reconciler; closed when Run exits.
func (l *Listener) Events() <-chan ChangeEvent {
	return l.events
}

// Run blocks until ctx is cancelled or reconnect attempts are exhausted.
func (l *Listener) Run(ctx context.Context) {
	defer close(l.events)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > l.cfg.MaxReconnects {
			l.logger.Error("Change feed reconnect attempts exhausted",
				zap.Int("attempts", attempt-1),
				zap.Error(err))
			if l.OnDown != nil {
				l.OnDown()
			}
			return
		}

		backoff := l.cfg.ReconnectBase << (attempt - 1)
		if backoff > l.cfg.ReconnectMax || backoff <= 0 {
			backoff = l.cfg.ReconnectMax
		}
		l.logger.Warn("Change feed disconnected, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if l.OnDown != nil {
			l.OnDown()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// consume holds one subscription until it fails or ctx is cancelled.
func (l *Listener) consume(ctx context.Context) error {
	sub := l.rdb.PSubscribe(ctx, l.cfg.ChannelPrefix+":*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting up.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if l.OnUp != nil {
		l.OnUp()
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			var event ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l.logger.Warn("Dropping undecodable change event",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}
			select {
			case l.events <- event:
			default:
				l.logger.Warn("Change event buffer full, dropping event",
					zap.String("record_id", event.RecordID()))
			}
		}
	}
}
