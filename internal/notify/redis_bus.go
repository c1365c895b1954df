package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rasidhq/recharge/internal/util"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Default Redis keys.
const (
	DefaultDeliveryQueue = "rasid:deliveries"
	DefaultEventChannel  = "rasid:events"
	DefaultEventBacklog  = "rasid:events:backlog"
	defaultBacklogSize   = 1000
)

// RedisOptions names the keys a RedisBus writes to.
type RedisOptions struct {
	DeliveryQueue string
	EventChannel  string
	EventBacklog  string
	BacklogSize   int64
}

// RedisBus queues card deliveries on a Redis list and publishes events on a
// channel, keeping a bounded backlog for consumers that were offline.
type RedisBus struct {
	client redis.UniversalClient
	opts   RedisOptions
	log    log.FieldLogger
	now    func() time.Time
}

// NewRedisBus constructs a RedisBus. It returns nil when client is nil.
func NewRedisBus(client redis.UniversalClient, opts RedisOptions, logger log.FieldLogger) *RedisBus {
	if client == nil {
		return nil
	}
	if opts.DeliveryQueue == "" {
		opts.DeliveryQueue = DefaultDeliveryQueue
	}
	if opts.EventChannel == "" {
		opts.EventChannel = DefaultEventChannel
	}
	if opts.EventBacklog == "" {
		opts.EventBacklog = DefaultEventBacklog
	}
	if opts.BacklogSize <= 0 {
		opts.BacklogSize = defaultBacklogSize
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisBus{
		client: client,
		opts:   opts,
		log:    logger.WithField("component", "notify"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Deliver appends the delivery to the queue consumed by the front-end.
func (b *RedisBus) Deliver(ctx context.Context, d Delivery) error {
	if d.TelegramID == 0 {
		return fmt.Errorf("notify: recipient %d has no linked account", d.RecipientID)
	}
	if d.At.IsZero() {
		d.At = b.now()
	}
	payload, errMarshal := json.Marshal(d)
	if errMarshal != nil {
		return fmt.Errorf("notify: encode delivery: %w", errMarshal)
	}
	if errPush := b.client.RPush(ctx, b.opts.DeliveryQueue, payload).Err(); errPush != nil {
		return fmt.Errorf("notify: queue delivery: %w", errPush)
	}
	b.log.WithFields(log.Fields{
		"request_id": d.RequestID,
		"card_id":    d.CardID,
		"serial":     util.MaskSerial(d.SerialNumber),
	}).Info("notify: delivery queued")
	return nil
}

// Notify publishes the event and records it in the backlog.
func (b *RedisBus) Notify(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = b.now()
	}
	payload, errMarshal := json.Marshal(e)
	if errMarshal != nil {
		return fmt.Errorf("notify: encode event: %w", errMarshal)
	}
	_, errPipe := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, b.opts.EventChannel, payload)
		pipe.RPush(ctx, b.opts.EventBacklog, payload)
		pipe.LTrim(ctx, b.opts.EventBacklog, -b.opts.BacklogSize, -1)
		return nil
	})
	if errPipe != nil {
		return fmt.Errorf("notify: publish event: %w", errPipe)
	}
	return nil
}

// PendingDeliveries returns the number of queued deliveries.
func (b *RedisBus) PendingDeliveries(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.opts.DeliveryQueue).Result()
}
