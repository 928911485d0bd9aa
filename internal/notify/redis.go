package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/vedran77/bazaar/internal/config"
	"github.com/vedran77/bazaar/internal/domain"
	"go.uber.org/zap"
)

const (
	inboxPrefix   = "notifications:"
	channelPrefix = "notify:"
	inboxCap      = 100
)

// NewClient opens a rueidis client for the configured Redis.
func NewClient(cfg config.Redis) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.Addr},
		Username:    cfg.Username,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}
	return client, nil
}

// RedisDispatcher keeps a capped per-user inbox list and publishes each
// notification on the user's channel for the Relay to pick up.
type RedisDispatcher struct {
	client rueidis.Client
	logger *zap.Logger
}

func NewRedisDispatcher(client rueidis.Client, logger *zap.Logger) *RedisDispatcher {
	return &RedisDispatcher{
		client: client,
		logger: logger.Named("notify"),
	}
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, n *domain.Notification) error {
	payload, err := sonic.MarshalString(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	user := n.UserID.String()
	results := d.client.DoMulti(ctx,
		d.client.B().Lpush().Key(inboxPrefix+user).Element(payload).Build(),
		d.client.B().Ltrim().Key(inboxPrefix+user).Start(0).Stop(inboxCap-1).Build(),
		d.client.B().Publish().Channel(channelPrefix+user).Message(payload).Build(),
	)
	for _, r := range results {
		if err := r.Error(); err != nil {
			return fmt.Errorf("dispatching notification: %w", err)
		}
	}
	return nil
}

// Inbox returns the user's most recent notifications, newest first.
func (d *RedisDispatcher) Inbox(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > inboxCap {
		limit = inboxCap
	}
	raw, err := d.client.Do(ctx,
		d.client.B().Lrange().Key(inboxPrefix+userID.String()).Start(0).Stop(int64(limit-1)).Build(),
	).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}

	out := make([]domain.Notification, 0, len(raw))
	for _, s := range raw {
		var n domain.Notification
		if err := sonic.UnmarshalString(s, &n); err != nil {
			d.logger.Warn("Skipping undecodable notification", zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Relay forwards notifications published on notify:* to local connections.
type Relay struct {
	client rueidis.Client
	hub    UserBroadcaster
	logger *zap.Logger
}

func NewRelay(client rueidis.Client, hub UserBroadcaster, logger *zap.Logger) *Relay {
	return &Relay{
		client: client,
		hub:    hub,
		logger: logger.Named("relay"),
	}
}

// Run blocks until ctx is done or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Relay subscribed", zap.String("pattern", channelPrefix+"*"))
	err := r.client.Receive(ctx, r.client.B().Psubscribe().Pattern(channelPrefix+"*").Build(),
		func(msg rueidis.PubSubMessage) {
			r.handle(msg)
		})
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return fmt.Errorf("relay subscription: %w", err)
	}
	return nil
}

func (r *Relay) handle(msg rueidis.PubSubMessage) {
	userID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
	if err != nil {
		r.logger.Warn("Ignoring message on unexpected channel", zap.String("channel", msg.Channel))
		return
	}

	var n domain.Notification
	if err := sonic.UnmarshalString(msg.Message, &n); err != nil {
		r.logger.Warn("Ignoring undecodable notification", zap.Error(err))
		return
	}
	r.hub.BroadcastToUser(userID, EventNotification, &n)
}
