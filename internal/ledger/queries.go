package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/models"
	"gorm.io/gorm"
)

// Summary maps card type to denomination to AVAILABLE count.
type Summary map[models.CardType]map[int64]int64

// Total returns the number of AVAILABLE cards in the summary.
func (s Summary) Total() int64 {
	var n int64
	for _, byAmount := range s {
		for _, c := range byAmount {
			n += c
		}
	}
	return n
}

// GetCard loads a card by id.
func (l *Ledger) GetCard(ctx context.Context, cardID uint64) (*models.Card, error) {
	var card models.Card
	errFind := l.db.WithContext(ctx).Where("id = ?", cardID).Take(&card).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("card %d", cardID)
	}
	if errFind != nil {
		return nil, fmt.Errorf("ledger: get card: %w", errFind)
	}
	return &card, nil
}

// CountAvailable counts AVAILABLE cards of a type and amount.
func (l *Ledger) CountAvailable(ctx context.Context, cardType models.CardType, amount int64) (int64, error) {
	var n int64
	if errCount := l.db.WithContext(ctx).Model(&models.Card{}).
		Where("card_type = ? AND amount = ? AND status = ?", cardType, amount, models.CardStatusAvailable).
		Count(&n).Error; errCount != nil {
		return 0, fmt.Errorf("ledger: count available: %w", errCount)
	}
	return n, nil
}

// AvailableSummary groups AVAILABLE cards by type and amount.
func (l *Ledger) AvailableSummary(ctx context.Context) (Summary, error) {
	var rows []struct {
		CardType models.CardType
		Amount   int64
		Total    int64
	}
	if errFind := l.db.WithContext(ctx).Model(&models.Card{}).
		Select("card_type, amount, COUNT(*) AS total").
		Where("status = ?", models.CardStatusAvailable).
		Group("card_type, amount").
		Order("card_type ASC, amount ASC").
		Scan(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: available summary: %w", errFind)
	}
	out := Summary{}
	for _, row := range rows {
		if out[row.CardType] == nil {
			out[row.CardType] = map[int64]int64{}
		}
		out[row.CardType][row.Amount] = row.Total
	}
	return out, nil
}

// ListAvailable returns AVAILABLE cards, oldest first, optionally filtered by type.
func (l *Ledger) ListAvailable(ctx context.Context, cardType *models.CardType, limit int) ([]models.Card, error) {
	q := l.db.WithContext(ctx).Where("status = ?", models.CardStatusAvailable)
	if cardType != nil {
		q = q.Where("card_type = ?", *cardType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var cards []models.Card
	if errFind := q.Order("added_at ASC").Order("id ASC").Find(&cards).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list available: %w", errFind)
	}
	return cards, nil
}

// AvailableTypes returns the card types with stock for an amount, in display order.
func (l *Ledger) AvailableTypes(ctx context.Context, amount int64) ([]models.CardType, error) {
	var types []models.CardType
	if errPluck := l.db.WithContext(ctx).Model(&models.Card{}).
		Where("amount = ? AND status = ?", amount, models.CardStatusAvailable).
		Distinct().
		Pluck("card_type", &types).Error; errPluck != nil {
		return nil, fmt.Errorf("ledger: available types: %w", errPluck)
	}
	present := make(map[models.CardType]bool, len(types))
	for _, t := range types {
		present[t] = true
	}
	out := make([]models.CardType, 0, len(types))
	for _, t := range models.CardTypes {
		if present[t] {
			out = append(out, t)
		}
	}
	return out, nil
}
