// Package notify hands cards and workflow events to the conversational front-end.
package notify

import (
	"time"

	"github.com/rasidhq/recharge/internal/models"
)

// EventKind names a workflow event.
type EventKind string

// Event kinds.
const (
	EventRequestSubmitted   EventKind = "request_submitted"
	EventRequestForwarded   EventKind = "request_forwarded"
	EventRequestApproved    EventKind = "request_approved"
	EventRequestRejected    EventKind = "request_rejected"
	EventCardSentDirectly   EventKind = "card_sent_directly"
	EventInventoryLow       EventKind = "inventory_low"
	EventMonthlyReportReady EventKind = "monthly_report_ready"
)

// Event is a non-blocking notification for one or more users.
type Event struct {
	Kind       EventKind       `json:"kind"`
	Recipients []uint64        `json:"recipients"`
	RequestID  uint64          `json:"request_id,omitempty"`
	ActorID    uint64          `json:"actor_id,omitempty"`
	Amount     int64           `json:"amount,omitempty"`
	CardType   models.CardType `json:"card_type,omitempty"`
	Remaining  *int64          `json:"remaining,omitempty"`
	Path       string          `json:"path,omitempty"`
	Text       string          `json:"text,omitempty"`
	At         time.Time       `json:"at"`
}

// Delivery hands one reserved card to its recipient.
type Delivery struct {
	RequestID    uint64          `json:"request_id,omitempty"`
	CardID       uint64          `json:"card_id"`
	CardType     models.CardType `json:"card_type"`
	Amount       int64           `json:"amount"`
	SerialNumber string          `json:"serial_number,omitempty"`
	ImageFileID  string          `json:"image_file_id,omitempty"`
	ImagePath    string          `json:"image_path,omitempty"`
	RecipientID  uint64          `json:"recipient_id"`
	TelegramID   int64           `json:"telegram_id"`
	Caption      string          `json:"caption,omitempty"`
	At           time.Time       `json:"at"`
}

// NewDelivery builds the delivery of card to recipient.
func NewDelivery(card *models.Card, recipient *models.User, requestID uint64, caption string) Delivery {
	d := Delivery{
		RequestID:   requestID,
		CardID:      card.ID,
		CardType:    card.Type,
		Amount:      card.Amount,
		RecipientID: recipient.ID,
		Caption:     caption,
	}
	if card.SerialNumber != nil {
		d.SerialNumber = *card.SerialNumber
	}
	if card.ImageFileID != nil {
		d.ImageFileID = *card.ImageFileID
	}
	if card.ImagePath != nil {
		d.ImagePath = *card.ImagePath
	}
	if recipient.TelegramID != nil {
		d.TelegramID = *recipient.TelegramID
	}
	return d
}
