// Package ledger owns card inventory: creation, allocation, delivery
// confirmation, compensation and the append-only inventory log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/db"
	"github.com/rasidhq/recharge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Ledger mutates card rows and their inventory log under short transactions.
type Ledger struct {
	db  *gorm.DB
	log log.FieldLogger
}

// New constructs a Ledger. It returns nil when db is nil.
func New(conn *gorm.DB, logger log.FieldLogger) *Ledger {
	if conn == nil {
		return nil
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Ledger{db: conn, log: logger.WithField("component", "ledger")}
}

// AddCardParams describes a card entering inventory.
type AddCardParams struct {
	Type         models.CardType
	Amount       int64
	ActorID      uint64
	ImageFileID  string
	ImagePath    string
	SerialNumber string
	Note         string
}

// build validates the params and returns the card row to insert.
func (p AddCardParams) build() (*models.Card, error) {
	if !p.Type.Valid() {
		return nil, apperr.Validation("unknown card type %q", p.Type)
	}
	if p.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive, got %d", p.Amount)
	}
	card := &models.Card{
		Type:      p.Type,
		Amount:    p.Amount,
		Status:    models.CardStatusAvailable,
		AddedByID: models.NullableID(p.ActorID),
	}
	if v := strings.TrimSpace(p.ImageFileID); v != "" {
		card.ImageFileID = &v
	}
	if v := strings.TrimSpace(p.ImagePath); v != "" {
		card.ImagePath = &v
	}
	if v := strings.TrimSpace(p.SerialNumber); v != "" {
		card.SerialNumber = &v
	}
	if card.ImageFileID == nil && card.ImagePath == nil && card.SerialNumber == nil {
		return nil, apperr.Validation("card needs an image reference or a serial number")
	}
	return card, nil
}

// AddCard inserts one AVAILABLE card and its ADD log entry.
func (l *Ledger) AddCard(ctx context.Context, p AddCardParams) (*models.Card, error) {
	card, errBuild := p.build()
	if errBuild != nil {
		return nil, errBuild
	}
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertCard(tx, card, p.ActorID, p.Note)
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("ledger: add card: %w", errTx))
	}
	l.log.WithFields(log.Fields{
		"card_id": card.ID,
		"type":    card.Type,
		"amount":  card.Amount,
		"actor":   p.ActorID,
	}).Info("ledger: card added")
	return card, nil
}

// AddCards inserts a batch of cards atomically; one failure rolls back all.
func (l *Ledger) AddCards(ctx context.Context, batch []AddCardParams) ([]models.Card, error) {
	if len(batch) == 0 {
		return nil, apperr.Validation("empty card batch")
	}
	cards := make([]*models.Card, 0, len(batch))
	seen := make(map[string]int, len(batch))
	for i, p := range batch {
		card, errBuild := p.build()
		if errBuild != nil {
			return nil, fmt.Errorf("card %d: %w", i+1, errBuild)
		}
		if card.SerialNumber != nil {
			if prev, dup := seen[*card.SerialNumber]; dup {
				return nil, apperr.Conflict("serial %s repeated at cards %d and %d", *card.SerialNumber, prev, i+1)
			}
			seen[*card.SerialNumber] = i + 1
		}
		cards = append(cards, card)
	}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, card := range cards {
			if errInsert := insertCard(tx, card, batch[i].ActorID, batch[i].Note); errInsert != nil {
				return fmt.Errorf("card %d: %w", i+1, errInsert)
			}
		}
		return nil
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("ledger: add cards: %w", errTx))
	}

	out := make([]models.Card, 0, len(cards))
	for _, card := range cards {
		out = append(out, *card)
	}
	l.log.WithField("count", len(out)).Info("ledger: card batch added")
	return out, nil
}

// insertCard writes the card row and its ADD entry inside tx.
// The unique index on serial_number remains the final guard.
func insertCard(tx *gorm.DB, card *models.Card, actorID uint64, note string) error {
	if card.SerialNumber != nil {
		var existing int64
		if errCount := tx.Model(&models.Card{}).
			Where("serial_number = ?", *card.SerialNumber).
			Count(&existing).Error; errCount != nil {
			return errCount
		}
		if existing > 0 {
			return apperr.Conflict("serial number %s already exists", *card.SerialNumber)
		}
	}
	if errCreate := tx.Create(card).Error; errCreate != nil {
		return errCreate
	}
	return appendLog(tx, card.ID, actorID, models.InventoryActionAdd, note)
}

// cardTransition describes one state-changing inventory action.
type cardTransition struct {
	from []models.CardStatus
	to   models.CardStatus
	// done is the status at which the action counts as already applied.
	done models.CardStatus
}

var cardTransitions = map[models.InventoryAction]cardTransition{
	models.InventoryActionReserve: {from: []models.CardStatus{models.CardStatusAvailable}, to: models.CardStatusReserved},
	models.InventoryActionSend:    {from: []models.CardStatus{models.CardStatusReserved}, to: models.CardStatusSent, done: models.CardStatusSent},
	models.InventoryActionRestore: {from: []models.CardStatus{models.CardStatusReserved}, to: models.CardStatusAvailable, done: models.CardStatusAvailable},
	models.InventoryActionArchive: {from: []models.CardStatus{models.CardStatusAvailable, models.CardStatusSent}, to: models.CardStatusArchived},
}

// CanTransition reports whether the card state machine allows from -> to.
func CanTransition(from, to models.CardStatus) bool {
	for _, tr := range cardTransitions {
		if tr.to != to {
			continue
		}
		for _, f := range tr.from {
			if f == from {
				return true
			}
		}
	}
	return false
}

// ReserveCard reserves a specific AVAILABLE card.
func (l *Ledger) ReserveCard(ctx context.Context, cardID, actorID uint64) (*models.Card, error) {
	return l.apply(ctx, cardID, actorID, models.InventoryActionReserve, "")
}

// MarkSent confirms delivery of a RESERVED card. Marking an already SENT
// card again is a no-op and writes no log entry.
func (l *Ledger) MarkSent(ctx context.Context, cardID, actorID uint64) (*models.Card, error) {
	return l.apply(ctx, cardID, actorID, models.InventoryActionSend, "")
}

// RestoreCard returns a RESERVED card to AVAILABLE after a failed delivery.
// Restoring a card that is already AVAILABLE is a no-op.
func (l *Ledger) RestoreCard(ctx context.Context, cardID, actorID uint64) (*models.Card, error) {
	return l.apply(ctx, cardID, actorID, models.InventoryActionRestore, "")
}

// ArchiveCard retires an AVAILABLE or SENT card.
func (l *Ledger) ArchiveCard(ctx context.Context, cardID, actorID uint64, note string) (*models.Card, error) {
	return l.apply(ctx, cardID, actorID, models.InventoryActionArchive, note)
}

// apply runs one transition under an exclusive row lock.
func (l *Ledger) apply(ctx context.Context, cardID, actorID uint64, action models.InventoryAction, note string) (*models.Card, error) {
	tr, ok := cardTransitions[action]
	if !ok {
		return nil, fmt.Errorf("ledger: no transition for action %s", action)
	}

	var card models.Card
	changed := false
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.SetLockTimeout(tx, lockWait); errLock != nil {
			return errLock
		}
		errFind := tx.Clauses(db.ForUpdate()).Where("id = ?", cardID).Take(&card).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apperr.NotFound("card %d", cardID)
		}
		if errFind != nil {
			return errFind
		}
		if tr.done != "" && card.Status == tr.done {
			return nil
		}
		if !statusIn(card.Status, tr.from) {
			return apperr.InvalidState("card %d is %s, cannot %s", cardID, card.Status, action)
		}
		res := tx.Model(&models.Card{}).
			Where("id = ? AND status = ?", cardID, card.Status).
			Update("status", tr.to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperr.InvalidState("card %d changed concurrently", cardID)
		}
		card.Status = tr.to
		changed = true
		return appendLog(tx, cardID, actorID, action, note)
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("ledger: %s card %d: %w", action, cardID, errTx))
	}
	if changed {
		l.log.WithFields(log.Fields{
			"card_id": cardID,
			"action":  action,
			"status":  card.Status,
			"actor":   actorID,
		}).Info("ledger: card transition")
	}
	return &card, nil
}

// lockWait bounds waits on the blocking row lock before surfacing a transient error.
const lockWait = 5 * time.Second

func statusIn(s models.CardStatus, set []models.CardStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
