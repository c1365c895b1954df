// Package workflow records recharge requests, their status transitions and
// card attachment under exclusive row locks.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/db"
	"github.com/rasidhq/recharge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NoteCardAssigned is the history note written when a card is attached.
const NoteCardAssigned = "card assigned"

// lockWait bounds waits on a contended request row.
const lockWait = 5 * time.Second

// Workflow owns recharge requests and their status history.
type Workflow struct {
	db     *gorm.DB
	log    log.FieldLogger
	strict bool
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithStrictTransitions makes SetStatus reject moves the request state
// machine does not allow. Without it SetStatus records any requested move.
func WithStrictTransitions() Option {
	return func(w *Workflow) { w.strict = true }
}

// New constructs a Workflow. It returns nil when db is nil.
func New(conn *gorm.DB, logger log.FieldLogger, opts ...Option) *Workflow {
	if conn == nil {
		return nil
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	w := &Workflow{db: conn, log: logger.WithField("component", "workflow")}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var requestTransitions = map[models.RequestStatus][]models.RequestStatus{
	models.RequestStatusPendingManager: {
		models.RequestStatusPendingAccounting,
		models.RequestStatusApproved,
		models.RequestStatusRejected,
		models.RequestStatusCancelled,
	},
	models.RequestStatusPendingAccounting: {
		models.RequestStatusApproved,
		models.RequestStatusRejected,
		models.RequestStatusCancelled,
	},
}

// Allowed reports whether the request state machine allows from -> to.
func Allowed(from, to models.RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateParams describes a new recharge request.
type CreateParams struct {
	RequesterID   uint64
	ResponsibleID uint64
	Amount        int64
	Type          models.RequestType
	Status        models.RequestStatus
	CardType      *models.CardType
	Note          string
}

func (p CreateParams) validate() error {
	if p.RequesterID == 0 {
		return apperr.Validation("requester is required")
	}
	if p.Amount <= 0 {
		return apperr.Validation("amount must be positive, got %d", p.Amount)
	}
	if !p.Type.Valid() {
		return apperr.Validation("unknown request type %q", p.Type)
	}
	if !p.Status.Valid() {
		return apperr.Validation("unknown request status %q", p.Status)
	}
	if p.CardType != nil && !p.CardType.Valid() {
		return apperr.Validation("unknown card type %q", *p.CardType)
	}
	return nil
}

// CreateRequest inserts a request and its initial history row.
func (w *Workflow) CreateRequest(ctx context.Context, p CreateParams) (*models.RechargeRequest, error) {
	if errValidate := p.validate(); errValidate != nil {
		return nil, errValidate
	}
	req := &models.RechargeRequest{
		RequesterID:   p.RequesterID,
		ResponsibleID: models.NullableID(p.ResponsibleID),
		RequestType:   p.Type,
		Amount:        p.Amount,
		Status:        p.Status,
		CardType:      p.CardType,
	}
	errTx := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(req).Error; errCreate != nil {
			return errCreate
		}
		return appendHistory(tx, req.ID, p.RequesterID, nil, p.Status, p.Note)
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: create request: %w", errTx))
	}
	w.log.WithFields(log.Fields{
		"request_id": req.ID,
		"requester":  p.RequesterID,
		"amount":     p.Amount,
		"status":     p.Status,
	}).Info("workflow: request created")
	return req, nil
}

// SetStatus moves a request to status under an exclusive lock and records the
// actual from/to pair. Callers check the expected prior state.
func (w *Workflow) SetStatus(ctx context.Context, requestID, actorID uint64, status models.RequestStatus, note string) (*models.RechargeRequest, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown request status %q", status)
	}
	var from models.RequestStatus
	req, errTx := w.withLockedRequest(ctx, requestID, func(tx *gorm.DB, req *models.RechargeRequest) error {
		from = req.Status
		if w.strict && !Allowed(from, status) {
			return apperr.InvalidState("request %d cannot move from %s to %s", requestID, from, status)
		}
		now := tx.NowFunc()
		if errUpdate := tx.Model(req).UpdateColumns(map[string]any{
			"status":     status,
			"updated_at": now,
		}).Error; errUpdate != nil {
			return errUpdate
		}
		req.Status = status
		req.UpdatedAt = now
		return appendHistory(tx, requestID, actorID, &from, status, note)
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: set status of request %d: %w", requestID, errTx))
	}
	w.log.WithFields(log.Fields{
		"request_id": requestID,
		"from":       from,
		"to":         status,
		"actor":      actorID,
	}).Info("workflow: status changed")
	return req, nil
}

// AttachCard sets the request's card once, under the same lock as SetStatus.
func (w *Workflow) AttachCard(ctx context.Context, requestID, cardID, actorID uint64) (*models.RechargeRequest, error) {
	if cardID == 0 {
		return nil, apperr.Validation("card is required")
	}
	req, errTx := w.withLockedRequest(ctx, requestID, func(tx *gorm.DB, req *models.RechargeRequest) error {
		if req.FinalCardID != nil {
			return apperr.InvalidState("request %d already has card %d", requestID, *req.FinalCardID)
		}
		if req.Status == models.RequestStatusRejected || req.Status == models.RequestStatusCancelled {
			return apperr.InvalidState("request %d is %s", requestID, req.Status)
		}
		if errUpdate := tx.Model(req).UpdateColumn("final_card_id", cardID).Error; errUpdate != nil {
			return errUpdate
		}
		req.FinalCardID = &cardID
		current := req.Status
		return appendHistory(tx, requestID, actorID, &current, current, NoteCardAssigned)
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: attach card to request %d: %w", requestID, errTx))
	}
	w.log.WithFields(log.Fields{"request_id": requestID, "card_id": cardID, "actor": actorID}).
		Info("workflow: card attached")
	return req, nil
}

// NoteCardReleased is the history note written when a claimed card is detached.
const NoteCardReleased = "card released"

// ClaimCard attaches cardID to a request that is still in expected and has no
// card yet. The check and the attach share one row lock, so of two concurrent
// claims exactly one succeeds.
func (w *Workflow) ClaimCard(ctx context.Context, requestID, cardID, actorID uint64, expected models.RequestStatus) (*models.RechargeRequest, error) {
	if cardID == 0 {
		return nil, apperr.Validation("card is required")
	}
	req, errTx := w.withLockedRequest(ctx, requestID, func(tx *gorm.DB, req *models.RechargeRequest) error {
		if req.Status != expected {
			return apperr.InvalidState("request %d is %s, not %s", requestID, req.Status, expected)
		}
		if req.FinalCardID != nil {
			return apperr.InvalidState("request %d already has card %d", requestID, *req.FinalCardID)
		}
		if errUpdate := tx.Model(req).UpdateColumn("final_card_id", cardID).Error; errUpdate != nil {
			return errUpdate
		}
		req.FinalCardID = &cardID
		current := req.Status
		return appendHistory(tx, requestID, actorID, &current, current, NoteCardAssigned)
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: claim card for request %d: %w", requestID, errTx))
	}
	w.log.WithFields(log.Fields{"request_id": requestID, "card_id": cardID, "actor": actorID}).
		Info("workflow: card claimed")
	return req, nil
}

// UnclaimCard detaches cardID from a request that has not been approved yet.
func (w *Workflow) UnclaimCard(ctx context.Context, requestID, cardID, actorID uint64) (*models.RechargeRequest, error) {
	req, errTx := w.withLockedRequest(ctx, requestID, func(tx *gorm.DB, req *models.RechargeRequest) error {
		if req.FinalCardID == nil || *req.FinalCardID != cardID {
			return apperr.InvalidState("request %d does not hold card %d", requestID, cardID)
		}
		if req.Status == models.RequestStatusApproved {
			return apperr.InvalidState("request %d is already approved", requestID)
		}
		if errUpdate := tx.Model(req).UpdateColumn("final_card_id", nil).Error; errUpdate != nil {
			return errUpdate
		}
		req.FinalCardID = nil
		current := req.Status
		return appendHistory(tx, requestID, actorID, &current, current, NoteCardReleased)
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: unclaim card of request %d: %w", requestID, errTx))
	}
	return req, nil
}

// Transition is a status move guarded by the request's current state.
type Transition struct {
	RequestID uint64
	ActorID   uint64
	From      models.RequestStatus
	To        models.RequestStatus
	Note      string
	// CardID must match the attached card. Zero requires no card attached.
	CardID uint64
	// Reason is stored on the request when set.
	Reason string
	// RecordApprover and RecordAccounting store ActorID in those roles.
	RecordApprover   bool
	RecordAccounting bool
}

// Advance applies t under the request row lock. It fails InvalidState when the
// request has left t.From or its attached card differs from t.CardID, so the
// loser of two concurrent decisions sees the winner's outcome.
func (w *Workflow) Advance(ctx context.Context, t Transition) (*models.RechargeRequest, error) {
	if !t.To.Valid() {
		return nil, apperr.Validation("unknown request status %q", t.To)
	}
	if (t.RecordApprover || t.RecordAccounting) && t.ActorID == 0 {
		return nil, apperr.Validation("actor is required")
	}
	req, errTx := w.withLockedRequest(ctx, t.RequestID, func(tx *gorm.DB, req *models.RechargeRequest) error {
		if req.Status != t.From {
			return apperr.InvalidState("request %d is %s, not %s", t.RequestID, req.Status, t.From)
		}
		switch {
		case t.CardID == 0 && req.FinalCardID != nil:
			return apperr.InvalidState("request %d has card %d attached", t.RequestID, *req.FinalCardID)
		case t.CardID != 0 && (req.FinalCardID == nil || *req.FinalCardID != t.CardID):
			return apperr.InvalidState("request %d does not hold card %d", t.RequestID, t.CardID)
		}
		changes := map[string]any{
			"status":     t.To,
			"updated_at": tx.NowFunc(),
		}
		if t.Reason != "" {
			changes["reason"] = t.Reason
		}
		if t.RecordApprover {
			changes["approver_id"] = t.ActorID
		}
		if t.RecordAccounting {
			changes["accounting_id"] = t.ActorID
		}
		if errUpdate := tx.Model(req).UpdateColumns(changes).Error; errUpdate != nil {
			return errUpdate
		}
		from := t.From
		if errHistory := appendHistory(tx, t.RequestID, t.ActorID, &from, t.To, t.Note); errHistory != nil {
			return errHistory
		}
		return tx.Where("id = ?", t.RequestID).Take(req).Error
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: advance request %d: %w", t.RequestID, errTx))
	}
	w.log.WithFields(log.Fields{
		"request_id": t.RequestID,
		"from":       t.From,
		"to":         t.To,
		"actor":      t.ActorID,
	}).Info("workflow: status changed")
	return req, nil
}

// SetApprover records who authorized the card release.
func (w *Workflow) SetApprover(ctx context.Context, requestID, approverID uint64) (*models.RechargeRequest, error) {
	return w.setField(ctx, requestID, "approver_id", approverID)
}

// SetAccounting records the accounting actor who handled the request.
func (w *Workflow) SetAccounting(ctx context.Context, requestID, accountingID uint64) (*models.RechargeRequest, error) {
	return w.setField(ctx, requestID, "accounting_id", accountingID)
}

// SetReason stores the approval or rejection reason.
func (w *Workflow) SetReason(ctx context.Context, requestID uint64, reason string) (*models.RechargeRequest, error) {
	return w.setField(ctx, requestID, "reason", reason)
}

func (w *Workflow) setField(ctx context.Context, requestID uint64, column string, value any) (*models.RechargeRequest, error) {
	if id, ok := value.(uint64); ok && id == 0 {
		return nil, apperr.Validation("%s is required", column)
	}
	req, errTx := w.withLockedRequest(ctx, requestID, func(tx *gorm.DB, req *models.RechargeRequest) error {
		if errUpdate := tx.Model(req).UpdateColumn(column, value).Error; errUpdate != nil {
			return errUpdate
		}
		return tx.Where("id = ?", requestID).Take(req).Error
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("workflow: set %s of request %d: %w", column, requestID, errTx))
	}
	return req, nil
}

// withLockedRequest runs fn in a transaction holding the request row lock.
func (w *Workflow) withLockedRequest(ctx context.Context, requestID uint64, fn func(tx *gorm.DB, req *models.RechargeRequest) error) (*models.RechargeRequest, error) {
	var req models.RechargeRequest
	errTx := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.SetLockTimeout(tx, lockWait); errLock != nil {
			return errLock
		}
		errFind := tx.Clauses(db.ForUpdate()).Where("id = ?", requestID).Take(&req).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apperr.NotFound("request %d", requestID)
		}
		if errFind != nil {
			return errFind
		}
		return fn(tx, &req)
	})
	if errTx != nil {
		return nil, errTx
	}
	return &req, nil
}

// appendHistory writes one status history row inside the caller's transaction.
func appendHistory(tx *gorm.DB, requestID, actorID uint64, from *models.RequestStatus, to models.RequestStatus, note string) error {
	row := models.RequestStatusHistory{
		RequestID:  requestID,
		ActorID:    models.NullableID(actorID),
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
	}
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("append history: %w", errCreate)
	}
	return nil
}
