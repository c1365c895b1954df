package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/ledger"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/notify"
	"github.com/rasidhq/recharge/internal/workflow"
	log "github.com/sirupsen/logrus"
)

// release reserves a card for req, claims the request for it, delivers it and
// approves the request. The claim holds the request row lock and requires req to
// still be in the state the caller checked, so a second approver, in this process
// or another, fails before anything is delivered. A failure before delivery
// restores the card; after delivery the card is marked sent whatever happens.
func (s *Service) release(ctx context.Context, req *models.RechargeRequest, cardType models.CardType, actorID uint64, note string, accounting bool) (*Result, error) {
	requester, err := s.dir.GetByID(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	if requester.TelegramID == nil {
		return nil, apperr.InvalidState("requester %d has no linked account", requester.ID)
	}

	card, err := s.ledger.TakeFirstAvailable(ctx, cardType, req.Amount, actorID)
	if err != nil {
		return nil, err
	}
	if _, errClaim := s.flow.ClaimCard(ctx, req.ID, card.ID, actorID, req.Status); errClaim != nil {
		return nil, s.restore(ctx, card.ID, actorID, errClaim)
	}
	if errDeliver := s.deliverer.Deliver(ctx, notify.NewDelivery(card, requester, req.ID, caption(card))); errDeliver != nil {
		cause := fmt.Errorf("approval: deliver card %d: %w", card.ID, errDeliver)
		if _, errUnclaim := s.flow.UnclaimCard(context.WithoutCancel(ctx), req.ID, card.ID, actorID); errUnclaim != nil {
			s.log.WithError(errUnclaim).WithFields(log.Fields{"request_id": req.ID, "card_id": card.ID}).Error("approval: unclaim card failed")
			cause = errors.Join(cause, errUnclaim)
		}
		return nil, s.restore(ctx, card.ID, actorID, cause)
	}

	updated, errAdvance := s.flow.Advance(context.WithoutCancel(ctx), workflow.Transition{
		RequestID:        req.ID,
		ActorID:          actorID,
		From:             req.Status,
		To:               models.RequestStatusApproved,
		Note:             note,
		CardID:           card.ID,
		RecordApprover:   true,
		RecordAccounting: accounting,
	})
	sent, errSent := s.ledger.MarkSent(context.WithoutCancel(ctx), card.ID, actorID)
	if errAdvance != nil || errSent != nil {
		s.log.WithFields(log.Fields{"request_id": req.ID, "card_id": card.ID, "approve_error": errAdvance, "sent_error": errSent}).
			Error("approval: bookkeeping failed after delivery")
		return nil, errors.Join(errAdvance, errSent)
	}

	s.log.WithFields(log.Fields{
		"request_id": req.ID,
		"card_id":    card.ID,
		"card_type":  card.Type,
		"amount":     card.Amount,
		"actor":      actorID,
	}).Info("approval: card released")
	s.notify(ctx, notify.Event{Kind: notify.EventRequestApproved, Recipients: []uint64{req.RequesterID}, RequestID: req.ID, ActorID: actorID, Amount: card.Amount, CardType: card.Type})
	s.checkThreshold(ctx, card.Type, card.Amount, actorID)
	return &Result{Request: updated, Card: sent}, nil
}

// DirectSendParams describes a card sent without a prior request.
type DirectSendParams struct {
	ActorID      uint64
	TargetUserID uint64
	CardType     models.CardType
	Amount       int64
}

// DirectSend delivers a card straight to a user and records an approved request for it.
// Admins may send to anyone; responsibles allowed to approve directly may send to their members.
func (s *Service) DirectSend(ctx context.Context, p DirectSendParams) (*Result, error) {
	if !s.directSend() {
		return nil, apperr.Forbidden("direct send is disabled")
	}
	if p.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive, got %d", p.Amount)
	}
	if !p.CardType.Valid() {
		return nil, apperr.Validation("unknown card type %q", p.CardType)
	}
	actor, err := s.activeUser(ctx, p.ActorID)
	if err != nil {
		return nil, err
	}
	target, err := s.dir.GetByID(ctx, p.TargetUserID)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		return nil, apperr.InvalidState("user %d is inactive", target.ID)
	}
	switch {
	case actor.Role == models.UserRoleAdmin:
	case actor.Role == models.UserRoleResponsible && actor.CanApproveDirectly:
		if target.ManagerID == nil || *target.ManagerID != actor.ID {
			return nil, apperr.Forbidden("user %d is not a member of %d", target.ID, actor.ID)
		}
	default:
		return nil, apperr.Forbidden("user %d may not send cards directly", actor.ID)
	}
	if target.TelegramID == nil {
		return nil, apperr.InvalidState("user %d has no linked account", target.ID)
	}

	card, err := s.ledger.TakeFirstAvailable(ctx, p.CardType, p.Amount, actor.ID)
	if err != nil {
		return nil, err
	}
	if errDeliver := s.deliverer.Deliver(ctx, notify.NewDelivery(card, target, 0, caption(card))); errDeliver != nil {
		return nil, s.restore(ctx, card.ID, actor.ID, fmt.Errorf("approval: deliver card %d: %w", card.ID, errDeliver))
	}

	reqType := models.RequestTypeCustom
	if ledger.IsStandardAmount(p.Amount) {
		reqType = models.RequestTypeFixed
	}
	cardType := p.CardType
	req, err := s.flow.CreateRequest(ctx, workflow.CreateParams{
		RequesterID:   target.ID,
		ResponsibleID: actor.ID,
		Amount:        p.Amount,
		Type:          reqType,
		Status:        models.RequestStatusPendingManager,
		CardType:      &cardType,
		Note:          NoteDirectSend,
	})
	if err != nil {
		return nil, s.restore(ctx, card.ID, actor.ID, err)
	}
	abandon := func(cause error) error {
		if _, errCancel := s.flow.SetStatus(context.WithoutCancel(ctx), req.ID, actor.ID, models.RequestStatusCancelled, NoteAbandoned); errCancel != nil {
			s.log.WithError(errCancel).WithField("request_id", req.ID).Error("approval: cancel abandoned request failed")
		}
		return s.restore(ctx, card.ID, actor.ID, cause)
	}
	if _, errClaim := s.flow.ClaimCard(ctx, req.ID, card.ID, actor.ID, models.RequestStatusPendingManager); errClaim != nil {
		return nil, abandon(errClaim)
	}
	updated, errAdvance := s.flow.Advance(ctx, workflow.Transition{
		RequestID:      req.ID,
		ActorID:        actor.ID,
		From:           models.RequestStatusPendingManager,
		To:             models.RequestStatusApproved,
		Note:           NoteDirectSend,
		CardID:         card.ID,
		RecordApprover: true,
	})
	if errAdvance != nil {
		return nil, abandon(errAdvance)
	}
	sent, errSent := s.ledger.MarkSent(ctx, card.ID, actor.ID)
	if errSent != nil {
		s.log.WithError(errSent).WithFields(log.Fields{"request_id": req.ID, "card_id": card.ID}).Error("approval: mark sent failed after delivery")
		return nil, errSent
	}

	s.log.WithFields(log.Fields{
		"request_id": req.ID,
		"card_id":    card.ID,
		"target":     target.ID,
		"actor":      actor.ID,
	}).Info("approval: card sent directly")
	s.notify(ctx, notify.Event{Kind: notify.EventCardSentDirectly, Recipients: s.adminIDs(ctx, actor.ID), RequestID: req.ID, ActorID: actor.ID, Amount: card.Amount, CardType: card.Type})
	s.checkThreshold(ctx, card.Type, card.Amount, actor.ID)
	return &Result{Request: updated, Card: sent}, nil
}

// checkThreshold alerts admins other than actorID when the stock of (cardType, amount)
// is at or below the configured threshold. Failures are logged only.
func (s *Service) checkThreshold(ctx context.Context, cardType models.CardType, amount int64, actorID uint64) {
	remaining, err := s.ledger.CountAvailable(ctx, cardType, amount)
	if err != nil {
		s.log.WithError(err).Warn("approval: count stock failed")
		return
	}
	if remaining > s.threshold() {
		return
	}
	if errAlert := s.ledger.RecordThresholdAlert(ctx, cardType, amount, remaining); errAlert != nil {
		s.log.WithError(errAlert).Warn("approval: record threshold alert failed")
	}
	s.notify(ctx, notify.Event{
		Kind:       notify.EventInventoryLow,
		Recipients: s.adminIDs(ctx, actorID),
		ActorID:    actorID,
		Amount:     amount,
		CardType:   cardType,
		Remaining:  &remaining,
	})
}

func caption(card *models.Card) string {
	return fmt.Sprintf("%s recharge card, %d", card.Type, card.Amount)
}
