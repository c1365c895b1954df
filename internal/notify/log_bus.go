package notify

import (
	"context"
	"fmt"

	"github.com/rasidhq/recharge/internal/util"
	log "github.com/sirupsen/logrus"
)

// LogBus writes deliveries and events to the log only. It suits local runs
// where no front-end consumes the queue.
type LogBus struct {
	log log.FieldLogger
}

// NewLogBus constructs a LogBus.
func NewLogBus(logger log.FieldLogger) *LogBus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogBus{log: logger.WithField("component", "notify")}
}

// Deliver logs the delivery. It fails when the recipient has no linked account.
func (b *LogBus) Deliver(_ context.Context, d Delivery) error {
	if d.TelegramID == 0 {
		return fmt.Errorf("notify: recipient %d has no linked account", d.RecipientID)
	}
	b.log.WithFields(log.Fields{
		"request_id": d.RequestID,
		"card_id":    d.CardID,
		"recipient":  d.RecipientID,
		"serial":     util.MaskSerial(d.SerialNumber),
	}).Info("notify: card delivered")
	return nil
}

// Notify logs the event.
func (b *LogBus) Notify(_ context.Context, e Event) error {
	b.log.WithFields(log.Fields{
		"kind":       e.Kind,
		"recipients": e.Recipients,
		"request_id": e.RequestID,
	}).Info("notify: event")
	return nil
}
