package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rasidhq/recharge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RefreshDBConfigSnapshot reloads the settings table into the in-memory snapshot.
// Stored values that fail validation are left out so their defaults apply.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).Order("key ASC").Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load: %w", errFind)
	}

	values := make(map[string]json.RawMessage, len(rows))
	var latest time.Time
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		raw := row.Value
		if check, known := knownKeys[key]; known {
			if errCheck := check(raw); errCheck != nil {
				log.WithFields(log.Fields{"key": key, "error": errCheck}).Warn("settings: ignoring invalid stored value")
				continue
			}
		}
		values[key] = raw
		if at := row.UpdatedAt.UTC(); at.After(latest) {
			latest = at
		}
	}

	StoreDBConfig(latest, values)
	return nil
}
