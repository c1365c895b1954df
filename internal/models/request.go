package models

import "time"

// RechargeRequest tracks a requester's claim on one card through approval.
type RechargeRequest struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequesterID   uint64  `gorm:"not null;index"` // User asking for the recharge.
	ResponsibleID *uint64 `gorm:"index"`          // Manager reviewing the request.
	AccountingID  *uint64 `gorm:"index"`          // Accounting actor handling the request.
	ApproverID    *uint64 `gorm:"index"`          // User who authorized the card release.

	RequestType RequestType   `gorm:"type:varchar(16);not null"`                                       // Fixed or custom amount.
	Amount      int64         `gorm:"not null;check:chk_recharge_requests_amount_positive,amount > 0"` // Requested denomination.
	Status      RequestStatus `gorm:"type:varchar(32);not null;index"`                                 // Lifecycle state.
	CardType    *CardType     `gorm:"type:varchar(16)"`                                                // Requested card type, if chosen.
	FinalCardID *uint64       `gorm:"index"`                                                           // Card attached on approval.
	Reason      string        `gorm:"type:text"`                                                       // Approval or rejection reason.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`       // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index"` // Last status change.
}

// TableName overrides the default table name.
func (RechargeRequest) TableName() string { return "recharge_requests" }

// RequestStatusHistory is an append-only record of one request transition.
type RequestStatusHistory struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID  uint64         `gorm:"not null;index"`            // Request the transition belongs to.
	ActorID    *uint64        `gorm:"index"`                     // Acting user, nil for system actions.
	FromStatus *RequestStatus `gorm:"type:varchar(32)"`          // Previous status, nil for the initial row.
	ToStatus   RequestStatus  `gorm:"type:varchar(32);not null"` // New status.
	Note       string         `gorm:"type:text"`                 // Free-text note.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (RequestStatusHistory) TableName() string { return "request_status_history" }
