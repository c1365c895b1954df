package db

import (
	"fmt"

	"github.com/rasidhq/recharge/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the service owns.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Card{},
		&models.CardInventoryLog{},
		&models.RechargeRequest{},
		&models.RequestStatusHistory{},
		&models.MonthlyReport{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
