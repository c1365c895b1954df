package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// MonthlyReportParams carries the aggregates of one reporting period.
type MonthlyReportParams struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	TotalAmount int64
	TotalTariff int64
	CardCount   int64
	ReportPath  string
}

// RecordMonthlyReport upserts the report row keyed by its period, so
// recording the same period twice leaves one row with the latest totals.
func (w *Workflow) RecordMonthlyReport(ctx context.Context, p MonthlyReportParams) (*models.MonthlyReport, error) {
	start, end := calendarDay(p.PeriodStart), calendarDay(p.PeriodEnd)
	if end.Before(start) {
		return nil, apperr.Validation("period end %s precedes start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	row := models.MonthlyReport{
		PeriodStart: datatypes.Date(start),
		PeriodEnd:   datatypes.Date(end),
		TotalAmount: p.TotalAmount,
		TotalTariff: p.TotalTariff,
		CardCount:   p.CardCount,
		ReportPath:  p.ReportPath,
	}
	conn := w.db.WithContext(ctx)
	if errUpsert := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period_start"}, {Name: "period_end"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_amount", "total_tariff", "card_count", "report_path", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: record monthly report: %w", errUpsert))
	}

	var stored models.MonthlyReport
	if errFind := conn.Where("period_start = ? AND period_end = ?", row.PeriodStart, row.PeriodEnd).
		Take(&stored).Error; errFind != nil {
		return nil, fmt.Errorf("workflow: reload monthly report: %w", errFind)
	}
	return &stored, nil
}

// calendarDay truncates t to midnight UTC of its own calendar date.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
