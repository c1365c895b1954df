// Package approval runs the caller-side flows of the recharge workflow: role routing,
// manager and accounting decisions, and direct sends. Every card reserved by a flow is
// either marked sent or restored before the flow returns.
package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/directory"
	"github.com/rasidhq/recharge/internal/ledger"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/notify"
	internalsettings "github.com/rasidhq/recharge/internal/settings"
	"github.com/rasidhq/recharge/internal/workflow"
	log "github.com/sirupsen/logrus"
)

// Notes recorded in request history.
const (
	NoteForwarded  = "forwarded to accounting"
	NoteApproved   = "approved"
	NoteFastPath   = "approved by manager"
	NoteDirectSend = "direct send"
	NoteAbandoned  = "direct send failed"
)

// Deliverer hands a reserved card to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, d notify.Delivery) error
}

// Notifier informs users about workflow events. Failures never abort a flow.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event) error
}

// Result is the outcome of a flow that consumed a card.
type Result struct {
	Request *models.RechargeRequest
	Card    *models.Card
}

// Service wires the ledger, workflow and directory into the approval flows.
type Service struct {
	ledger    *ledger.Ledger
	flow      *workflow.Workflow
	dir       *directory.Directory
	deliverer Deliverer
	notifier  Notifier
	log       log.FieldLogger

	threshold  func() int64
	directSend func() bool
	locks      *keyedMutex
}

// Option customizes a Service.
type Option func(*Service)

// WithThreshold overrides the low-stock threshold source.
func WithThreshold(fn func() int64) Option {
	return func(s *Service) {
		if fn != nil {
			s.threshold = fn
		}
	}
}

// WithDirectSendGate overrides the switch that opens the direct-send flow.
func WithDirectSendGate(fn func() bool) Option {
	return func(s *Service) {
		if fn != nil {
			s.directSend = fn
		}
	}
}

// New constructs a Service.
func New(l *ledger.Ledger, w *workflow.Workflow, d *directory.Directory, deliverer Deliverer, notifier Notifier, logger log.FieldLogger, opts ...Option) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{
		ledger:     l,
		flow:       w,
		dir:        d,
		deliverer:  deliverer,
		notifier:   notifier,
		log:        logger.WithField("component", "approval"),
		threshold:  internalsettings.InventoryThreshold,
		directSend: internalsettings.DirectSendEnabled,
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitParams describes a recharge request raised by a user.
type SubmitParams struct {
	RequesterID uint64
	Amount      int64
	// Type defaults to fixed for menu amounts and custom otherwise.
	Type models.RequestType
	// CardType defaults to the requester's line type.
	CardType *models.CardType
}

// Submit creates a request routed by the requester's role and notifies whoever decides next.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*models.RechargeRequest, error) {
	if p.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive, got %d", p.Amount)
	}
	requester, err := s.activeUser(ctx, p.RequesterID)
	if err != nil {
		return nil, err
	}

	reqType := p.Type
	if reqType == "" {
		reqType = models.RequestTypeCustom
		if ledger.IsStandardAmount(p.Amount) {
			reqType = models.RequestTypeFixed
		}
	}
	cardType := p.CardType
	if cardType == nil {
		cardType = requester.LineType
	}

	params := workflow.CreateParams{
		RequesterID: requester.ID,
		Amount:      p.Amount,
		Type:        reqType,
		CardType:    cardType,
	}
	switch requester.Role {
	case models.UserRoleUser:
		if requester.ManagerID == nil {
			return nil, apperr.Validation("user %d has no manager", requester.ID)
		}
		params.ResponsibleID = *requester.ManagerID
		params.Status = models.RequestStatusPendingManager
	case models.UserRoleResponsible:
		params.ResponsibleID = requester.ID
		params.Status = models.RequestStatusPendingAccounting
	case models.UserRoleAdmin:
		params.Status = models.RequestStatusPendingAccounting
	default:
		return nil, apperr.Validation("unknown role %q", requester.Role)
	}

	req, err := s.flow.CreateRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	event := notify.Event{Kind: notify.EventRequestSubmitted, RequestID: req.ID, ActorID: requester.ID, Amount: req.Amount}
	if cardType != nil {
		event.CardType = *cardType
	}
	if req.Status == models.RequestStatusPendingManager {
		event.Recipients = []uint64{params.ResponsibleID}
	} else {
		event.Recipients = s.adminIDs(ctx, requester.ID)
	}
	s.notify(ctx, event)
	return req, nil
}

// ManagerApprove forwards a member's request to accounting.
func (s *Service) ManagerApprove(ctx context.Context, requestID, managerID uint64) (*models.RechargeRequest, error) {
	defer s.locks.Lock(requestID)()

	if _, err := s.managerRequest(ctx, requestID, managerID); err != nil {
		return nil, err
	}
	req, err := s.flow.Advance(ctx, workflow.Transition{
		RequestID: requestID,
		ActorID:   managerID,
		From:      models.RequestStatusPendingManager,
		To:        models.RequestStatusPendingAccounting,
		Note:      NoteForwarded,
	})
	if err != nil {
		return nil, err
	}
	recipients := append(s.adminIDs(ctx, 0), req.RequesterID)
	s.notify(ctx, notify.Event{Kind: notify.EventRequestForwarded, Recipients: recipients, RequestID: req.ID, ActorID: managerID, Amount: req.Amount})
	return req, nil
}

// ManagerReject rejects a member's request.
func (s *Service) ManagerReject(ctx context.Context, requestID, managerID uint64, reason string) (*models.RechargeRequest, error) {
	defer s.locks.Lock(requestID)()

	if _, err := s.managerRequest(ctx, requestID, managerID); err != nil {
		return nil, err
	}
	return s.reject(ctx, workflow.Transition{
		RequestID: requestID,
		ActorID:   managerID,
		From:      models.RequestStatusPendingManager,
	}, reason)
}

// ManagerSend approves a member's request and releases a card immediately. Only managers
// allowed to approve directly may use it.
func (s *Service) ManagerSend(ctx context.Context, requestID, managerID uint64) (*Result, error) {
	defer s.locks.Lock(requestID)()

	req, err := s.managerRequest(ctx, requestID, managerID)
	if err != nil {
		return nil, err
	}
	manager, err := s.activeUser(ctx, managerID)
	if err != nil {
		return nil, err
	}
	if !manager.CanApproveDirectly {
		return nil, apperr.Forbidden("user %d may not approve directly", managerID)
	}
	cardType, err := s.stockedType(ctx, req.CardType, req.Amount)
	if err != nil {
		return nil, err
	}
	return s.release(ctx, req, cardType, managerID, NoteFastPath, false)
}

// AccountingApprove approves a request awaiting accounting and releases a card. cardType
// overrides the type stored on the request.
func (s *Service) AccountingApprove(ctx context.Context, requestID, adminID uint64, cardType *models.CardType) (*Result, error) {
	defer s.locks.Lock(requestID)()

	req, err := s.accountingRequest(ctx, requestID, adminID)
	if err != nil {
		return nil, err
	}
	chosen := cardType
	if chosen == nil {
		chosen = req.CardType
	}
	if chosen == nil {
		requester, errRequester := s.dir.GetByID(ctx, req.RequesterID)
		if errRequester != nil {
			return nil, errRequester
		}
		chosen = requester.LineType
	}
	if chosen == nil {
		return nil, apperr.Validation("request %d needs a card type", requestID)
	}
	if !chosen.Valid() {
		return nil, apperr.Validation("unknown card type %q", *chosen)
	}
	return s.release(ctx, req, *chosen, adminID, NoteApproved, true)
}

// AccountingReject rejects a request awaiting accounting.
func (s *Service) AccountingReject(ctx context.Context, requestID, adminID uint64, reason string) (*models.RechargeRequest, error) {
	defer s.locks.Lock(requestID)()

	if _, err := s.accountingRequest(ctx, requestID, adminID); err != nil {
		return nil, err
	}
	return s.reject(ctx, workflow.Transition{
		RequestID:        requestID,
		ActorID:          adminID,
		From:             models.RequestStatusPendingAccounting,
		RecordAccounting: true,
	}, reason)
}

// reject moves t.RequestID from t.From to REJECTED. It fails while a card is claimed.
func (s *Service) reject(ctx context.Context, t workflow.Transition, reason string) (*models.RechargeRequest, error) {
	t.To = models.RequestStatusRejected
	t.Note = reason
	t.Reason = reason
	req, err := s.flow.Advance(ctx, t)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, notify.Event{Kind: notify.EventRequestRejected, Recipients: []uint64{req.RequesterID}, RequestID: req.ID, ActorID: t.ActorID, Amount: req.Amount, Text: reason})
	return req, nil
}

// managerRequest loads a request awaiting managerID's decision.
func (s *Service) managerRequest(ctx context.Context, requestID, managerID uint64) (*models.RechargeRequest, error) {
	req, err := s.flow.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ResponsibleID == nil || *req.ResponsibleID != managerID {
		return nil, apperr.Forbidden("request %d is not assigned to user %d", requestID, managerID)
	}
	if req.Status != models.RequestStatusPendingManager {
		return nil, apperr.InvalidState("request %d is %s, not awaiting its manager", requestID, req.Status)
	}
	return req, nil
}

// accountingRequest loads a request awaiting accounting, acted on by an admin.
func (s *Service) accountingRequest(ctx context.Context, requestID, adminID uint64) (*models.RechargeRequest, error) {
	admin, err := s.activeUser(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin.Role != models.UserRoleAdmin {
		return nil, apperr.Forbidden("user %d is not an admin", adminID)
	}
	req, err := s.flow.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusPendingAccounting {
		return nil, apperr.InvalidState("request %d is %s, not awaiting accounting", requestID, req.Status)
	}
	return req, nil
}

// stockedType prefers the requested card type when it has stock, else the first type that does.
func (s *Service) stockedType(ctx context.Context, preferred *models.CardType, amount int64) (models.CardType, error) {
	if preferred != nil {
		n, err := s.ledger.CountAvailable(ctx, *preferred, amount)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return *preferred, nil
		}
	}
	types, err := s.ledger.AvailableTypes(ctx, amount)
	if err != nil {
		return "", err
	}
	if len(types) == 0 {
		return "", apperr.NotFound("no card of amount %d in stock", amount)
	}
	return types[0], nil
}

func (s *Service) activeUser(ctx context.Context, userID uint64) (*models.User, error) {
	user, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperr.Forbidden("user %d is inactive", userID)
	}
	return user, nil
}

// adminIDs lists active admins other than exclude. Lookup failures are logged.
func (s *Service) adminIDs(ctx context.Context, exclude uint64) []uint64 {
	admins, err := s.dir.ListAdmins(ctx)
	if err != nil {
		s.log.WithError(err).Warn("approval: list admins failed")
		return nil
	}
	ids := make([]uint64, 0, len(admins))
	for _, a := range admins {
		if a.ID != exclude {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func (s *Service) notify(ctx context.Context, e notify.Event) {
	if s.notifier == nil || len(e.Recipients) == 0 {
		return
	}
	if errNotify := s.notifier.Notify(ctx, e); errNotify != nil {
		s.log.WithError(errNotify).WithFields(log.Fields{"kind": e.Kind, "request_id": e.RequestID}).Warn("approval: notify failed")
	}
}

// restore returns card to stock after cause interrupted a flow.
func (s *Service) restore(ctx context.Context, cardID, actorID uint64, cause error) error {
	fields := log.Fields{"card_id": cardID, "cause": cause.Error()}
	if _, errRestore := s.ledger.RestoreCard(context.WithoutCancel(ctx), cardID, actorID); errRestore != nil {
		s.log.WithError(errRestore).WithFields(fields).Error("approval: restore card failed")
		return errors.Join(cause, fmt.Errorf("approval: restore card %d: %w", cardID, errRestore))
	}
	s.log.WithFields(fields).Warn("approval: card restored")
	return cause
}
