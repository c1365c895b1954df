package models

import "time"

// User is a member of the organisation known to the recharge workflow.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	FullName   string      `gorm:"type:text;not null"`                    // Display name.
	Phone      string      `gorm:"type:varchar(32);not null;uniqueIndex"` // Contact phone.
	TelegramID *int64      `gorm:"uniqueIndex"`                           // Linked messaging account.
	Role       UserRole    `gorm:"type:varchar(16);not null;index"`       // Permission tier.
	Department *Department `gorm:"type:varchar(16)"`                      // Organisational unit, if any.

	// ManagerID is a lookup key into the same table, never an owned member list.
	ManagerID *uint64 `gorm:"index"`

	LineExpiry         *time.Time // Expiry of the subscriber line.
	LineType           *CardType  `gorm:"type:varchar(16)"`       // Preferred card type.
	CanApproveDirectly bool       `gorm:"not null;default:false"` // Responsible may release cards directly.
	IsActive           bool       `gorm:"not null;default:true"`  // Inactive users cannot act.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (User) TableName() string { return "users" }

// NullableID converts a zero ID into nil, for optional references such as system actors.
func NullableID(id uint64) *uint64 {
	if id == 0 {
		return nil
	}
	return &id
}
