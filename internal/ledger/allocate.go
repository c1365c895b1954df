package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/db"
	"github.com/rasidhq/recharge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxAllocateAttempts bounds reselection when the guarded update loses a race.
// With row locks honoured the first attempt always wins.
const maxAllocateAttempts = 3

// errLostRace reports that the selected card was reserved by someone else
// between selection and update.
var errLostRace = errors.New("ledger: card taken concurrently")

// TakeFirstAvailable reserves the oldest AVAILABLE card of the given type and
// amount. Rows locked by concurrent allocators are skipped rather than waited
// on, so NotFound means no unlocked match exists.
func (l *Ledger) TakeFirstAvailable(ctx context.Context, cardType models.CardType, amount int64, actorID uint64) (*models.Card, error) {
	if !cardType.Valid() {
		return nil, apperr.Validation("unknown card type %q", cardType)
	}
	if amount <= 0 {
		return nil, apperr.Validation("amount must be positive, got %d", amount)
	}

	for attempt := 1; attempt <= maxAllocateAttempts; attempt++ {
		card, err := l.reserveOldest(ctx, cardType, amount, actorID)
		if errors.Is(err, errLostRace) {
			l.log.WithFields(log.Fields{"type": cardType, "amount": amount, "attempt": attempt}).
				Debug("ledger: allocation lost race, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		l.log.WithFields(log.Fields{
			"card_id": card.ID,
			"type":    cardType,
			"amount":  amount,
			"actor":   actorID,
		}).Info("ledger: card reserved")
		return card, nil
	}
	return nil, fmt.Errorf("%w: allocation for %s %d kept losing races", apperr.ErrTransient, cardType, amount)
}

func (l *Ledger) reserveOldest(ctx context.Context, cardType models.CardType, amount int64, actorID uint64) (*models.Card, error) {
	var card models.Card
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		errFind := tx.Clauses(db.ForUpdateSkipLocked()).
			Where("card_type = ? AND amount = ? AND status = ?", cardType, amount, models.CardStatusAvailable).
			Order("added_at ASC").
			Order("id ASC").
			Limit(1).
			Take(&card).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apperr.NotFound("no available %s card of %d", cardType, amount)
		}
		if errFind != nil {
			return errFind
		}

		res := tx.Model(&models.Card{}).
			Where("id = ? AND status = ?", card.ID, models.CardStatusAvailable).
			Update("status", models.CardStatusReserved)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errLostRace
		}
		card.Status = models.CardStatusReserved
		return appendLog(tx, card.ID, actorID, models.InventoryActionReserve, "")
	})
	if errors.Is(errTx, errLostRace) {
		return nil, errLostRace
	}
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("ledger: take first available: %w", errTx))
	}
	return &card, nil
}
