package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/db"
	"github.com/rasidhq/recharge/internal/models"
	"gorm.io/gorm"
)

// GetRequest loads a request by id.
func (w *Workflow) GetRequest(ctx context.Context, requestID uint64) (*models.RechargeRequest, error) {
	var req models.RechargeRequest
	errFind := w.db.WithContext(ctx).Where("id = ?", requestID).Take(&req).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("request %d", requestID)
	}
	if errFind != nil {
		return nil, fmt.Errorf("workflow: get request: %w", errFind)
	}
	return &req, nil
}

// History returns the status history of a request in commit order.
func (w *Workflow) History(ctx context.Context, requestID uint64) ([]models.RequestStatusHistory, error) {
	var rows []models.RequestStatusHistory
	if errFind := w.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("workflow: history: %w", errFind)
	}
	return rows, nil
}

// ListFilter narrows ListRequests.
type ListFilter struct {
	Status        *models.RequestStatus
	ResponsibleID uint64
	RequesterID   uint64
	Limit         int
}

// ListRequests returns requests newest first.
func (w *Workflow) ListRequests(ctx context.Context, f ListFilter) ([]models.RechargeRequest, error) {
	q := w.db.WithContext(ctx).Model(&models.RechargeRequest{})
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.ResponsibleID != 0 {
		q = q.Where("responsible_id = ?", f.ResponsibleID)
	}
	if f.RequesterID != 0 {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []models.RechargeRequest
	if errFind := q.Order("id DESC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("workflow: list requests: %w", errFind)
	}
	return rows, nil
}

// ExportFilter narrows ExportConsumedRequests. Start is inclusive and End exclusive.
type ExportFilter struct {
	ResponsibleID uint64
	Start         *time.Time
	End           *time.Time
}

// ConsumedRequest is one approved request joined with its people and card.
type ConsumedRequest struct {
	RequestID       uint64
	Amount          int64
	RequestType     models.RequestType
	UpdatedAt       time.Time
	RequesterID     uint64
	RequesterName   string
	RequesterPhone  string
	ResponsibleName *string
	ApproverName    *string
	CardType        *string
}

// ApproverOrResponsible returns the approver name, falling back to the responsible.
func (c ConsumedRequest) ApproverOrResponsible() string {
	if c.ApproverName != nil && *c.ApproverName != "" {
		return *c.ApproverName
	}
	if c.ResponsibleName != nil {
		return *c.ResponsibleName
	}
	return ""
}

// ExportConsumedRequests lists APPROVED requests for reporting, oldest update first.
func (w *Workflow) ExportConsumedRequests(ctx context.Context, f ExportFilter) ([]ConsumedRequest, error) {
	q := w.db.WithContext(ctx).Table("recharge_requests AS r").
		Select(`r.id AS request_id, r.amount AS amount, r.request_type AS request_type, r.updated_at AS updated_at,
			r.requester_id AS requester_id, requester.full_name AS requester_name, requester.phone AS requester_phone,
			responsible.full_name AS responsible_name, approver.full_name AS approver_name,
			COALESCE(c.card_type, r.card_type) AS card_type`).
		Joins("JOIN users AS requester ON requester.id = r.requester_id").
		Joins("LEFT JOIN users AS responsible ON responsible.id = r.responsible_id").
		Joins("LEFT JOIN users AS approver ON approver.id = r.approver_id").
		Joins("LEFT JOIN cards AS c ON c.id = r.final_card_id").
		Where("r.status = ?", models.RequestStatusApproved)
	if f.ResponsibleID != 0 {
		q = q.Where("r.responsible_id = ?", f.ResponsibleID)
	}
	if f.Start != nil {
		q = q.Where("r.updated_at >= ?", f.Start.UTC())
	}
	if f.End != nil {
		q = q.Where("r.updated_at < ?", f.End.UTC())
	}
	var rows []ConsumedRequest
	if errScan := q.Order("r.updated_at ASC").Order("r.id ASC").Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("workflow: export consumed requests: %w", errScan)
	}
	return rows, nil
}

// MonthTotal aggregates APPROVED requests of one UTC calendar month.
type MonthTotal struct {
	Month       string
	Requests    int64
	TotalAmount int64
}

// MonthlyTotals returns per-month approved totals since the given time, oldest month first.
func (w *Workflow) MonthlyTotals(ctx context.Context, since time.Time, responsibleID uint64) ([]MonthTotal, error) {
	month := db.MonthExpr(w.db, "updated_at")
	q := w.db.WithContext(ctx).Model(&models.RechargeRequest{}).
		Select(month+" AS month, COUNT(*) AS requests, COALESCE(SUM(amount), 0) AS total_amount").
		Where("status = ? AND updated_at >= ?", models.RequestStatusApproved, since.UTC())
	if responsibleID != 0 {
		q = q.Where("responsible_id = ?", responsibleID)
	}
	var rows []MonthTotal
	if errScan := q.Group(month).Order("month ASC").Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("workflow: monthly totals: %w", errScan)
	}
	return rows, nil
}
