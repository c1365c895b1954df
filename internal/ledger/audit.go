package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// appendLog writes one inventory log row inside the caller's transaction.
func appendLog(tx *gorm.DB, cardID, actorID uint64, action models.InventoryAction, note string) error {
	entry := models.CardInventoryLog{
		CardID:  cardID,
		ActorID: models.NullableID(actorID),
		Action:  action,
		Note:    note,
	}
	if errCreate := tx.Create(&entry).Error; errCreate != nil {
		return fmt.Errorf("append %s log: %w", action, errCreate)
	}
	return nil
}

// CardLogs returns the inventory log of one card in commit order.
func (l *Ledger) CardLogs(ctx context.Context, cardID uint64) ([]models.CardInventoryLog, error) {
	var rows []models.CardInventoryLog
	if errFind := l.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: card logs: %w", errFind)
	}
	return rows, nil
}

// RecordThresholdAlert logs a low-stock alert against the most recently
// consumed card of the pair. The entry has no actor.
func (l *Ledger) RecordThresholdAlert(ctx context.Context, cardType models.CardType, amount, remaining int64) error {
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		errFind := tx.Where("card_type = ? AND amount = ? AND status <> ?", cardType, amount, models.CardStatusAvailable).
			Order("id DESC").
			Take(&card).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			errFind = tx.Where("card_type = ? AND amount = ?", cardType, amount).Order("id DESC").Take(&card).Error
		}
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apperr.NotFound("no %s card of %d to attach alert to", cardType, amount)
		}
		if errFind != nil {
			return errFind
		}
		return appendLog(tx, card.ID, 0, models.InventoryActionThresholdAlert, fmt.Sprintf("remaining=%d", remaining))
	})
	if errTx != nil {
		return apperr.Classify(fmt.Errorf("ledger: threshold alert: %w", errTx))
	}
	l.log.WithFields(log.Fields{"type": cardType, "amount": amount, "remaining": remaining}).
		Warn("ledger: inventory below threshold")
	return nil
}
