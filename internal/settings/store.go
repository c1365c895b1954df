package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// knownKeys lists the settings an operator may change at runtime.
var knownKeys = map[string]func(json.RawMessage) error{
	InventoryThresholdKey: intInRange(0, 1_000_000),
	ReportDayKey:          intInRange(1, 28),
	ReportHourKey:         intInRange(0, 23),
	DirectSendEnabledKey: func(raw json.RawMessage) error {
		if _, ok := parseDBConfigBool(raw); !ok {
			return errors.New("expected a boolean")
		}
		return nil
	},
}

// Put validates and upserts one setting, then refreshes the in-memory snapshot.
func Put(ctx context.Context, db *gorm.DB, key string, value json.RawMessage) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	check, ok := knownKeys[key]
	if !ok {
		return apperr.Validation("settings: unknown key %q", key)
	}
	if errCheck := check(value); errCheck != nil {
		return apperr.Validation("settings: %s: %v", key, errCheck)
	}

	row := models.Setting{Key: key, Value: value}
	if errUpsert := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("settings: put %s: %w", key, errUpsert)
	}
	return RefreshDBConfigSnapshot(ctx, db)
}

func intInRange(lo, hi int) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		n, ok := parseDBConfigInt(raw)
		if !ok {
			return errors.New("expected an integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}
