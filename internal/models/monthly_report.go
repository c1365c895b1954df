package models

import (
	"time"

	"gorm.io/datatypes"
)

// MonthlyReport summarizes consumption for one reporting period.
type MonthlyReport struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PeriodStart datatypes.Date `gorm:"not null;uniqueIndex:uq_monthly_reports_period,priority:1"` // First day of the period.
	PeriodEnd   datatypes.Date `gorm:"not null;uniqueIndex:uq_monthly_reports_period,priority:2"` // Last day of the period.

	TotalAmount int64  `gorm:"not null;default:0"` // Sum of consumed card amounts.
	TotalTariff int64  `gorm:"not null;default:0"` // Sum of tariffs charged.
	CardCount   int64  `gorm:"not null;default:0"` // Number of consumed cards.
	ReportPath  string `gorm:"type:text"`          // Path of the generated workbook.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (MonthlyReport) TableName() string { return "monthly_reports" }
