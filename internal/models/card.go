package models

import "time"

// Card is a single prepaid recharge card held in inventory.
type Card struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Type   CardType   `gorm:"column:card_type;type:varchar(16);not null;index:idx_cards_pick,priority:1"`          // Carrier of the card.
	Amount int64      `gorm:"not null;check:chk_cards_amount_positive,amount > 0;index:idx_cards_pick,priority:2"` // Denomination.
	Status CardStatus `gorm:"type:varchar(16);not null;index:idx_cards_pick,priority:3"`                           // Lifecycle state.

	ImageFileID  *string `gorm:"type:text"`                     // Messaging platform file reference.
	ImagePath    *string `gorm:"type:text"`                     // Local path of the stored card image.
	SerialNumber *string `gorm:"type:varchar(128);uniqueIndex"` // Unique serial, when known.

	AddedByID *uint64   `gorm:"index"`                         // User who added the card.
	AddedAt   time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}

// TableName overrides the default table name.
func (Card) TableName() string { return "cards" }

// CardInventoryLog is an append-only audit entry for one card action.
type CardInventoryLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CardID  uint64          `gorm:"not null;index"`                  // Card the action applied to.
	ActorID *uint64         `gorm:"index"`                           // Acting user, nil for system actions.
	Action  InventoryAction `gorm:"type:varchar(32);not null;index"` // Action performed.
	Note    string          `gorm:"type:text"`                       // Free-text note.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (CardInventoryLog) TableName() string { return "card_inventory_logs" }
