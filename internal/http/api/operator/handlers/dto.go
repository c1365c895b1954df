package handlers

import (
	"time"

	"github.com/rasidhq/recharge/internal/models"
)

type cardDTO struct {
	ID           uint64            `json:"id"`
	Type         models.CardType   `json:"card_type"`
	Amount       int64             `json:"amount"`
	Status       models.CardStatus `json:"status"`
	SerialNumber *string           `json:"serial_number,omitempty"`
	ImageFileID  *string           `json:"image_file_id,omitempty"`
	ImagePath    *string           `json:"image_path,omitempty"`
	AddedByID    *uint64           `json:"added_by_id,omitempty"`
	AddedAt      time.Time         `json:"added_at"`
}

func newCardDTO(card *models.Card) cardDTO {
	return cardDTO{
		ID:           card.ID,
		Type:         card.Type,
		Amount:       card.Amount,
		Status:       card.Status,
		SerialNumber: card.SerialNumber,
		ImageFileID:  card.ImageFileID,
		ImagePath:    card.ImagePath,
		AddedByID:    card.AddedByID,
		AddedAt:      card.AddedAt,
	}
}

func newCardDTOs(cards []models.Card) []cardDTO {
	out := make([]cardDTO, 0, len(cards))
	for i := range cards {
		out = append(out, newCardDTO(&cards[i]))
	}
	return out
}

type cardLogDTO struct {
	ID        uint64                 `json:"id"`
	CardID    uint64                 `json:"card_id"`
	ActorID   *uint64                `json:"actor_id"`
	Action    models.InventoryAction `json:"action"`
	Note      string                 `json:"note"`
	CreatedAt time.Time              `json:"created_at"`
}

type requestDTO struct {
	ID            uint64               `json:"id"`
	RequesterID   uint64               `json:"requester_id"`
	ResponsibleID *uint64              `json:"responsible_id"`
	AccountingID  *uint64              `json:"accounting_id"`
	ApproverID    *uint64              `json:"approver_id"`
	RequestType   models.RequestType   `json:"request_type"`
	Amount        int64                `json:"amount"`
	Status        models.RequestStatus `json:"status"`
	CardType      *models.CardType     `json:"card_type"`
	FinalCardID   *uint64              `json:"final_card_id"`
	Reason        string               `json:"reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func newRequestDTO(req *models.RechargeRequest) requestDTO {
	return requestDTO{
		ID:            req.ID,
		RequesterID:   req.RequesterID,
		ResponsibleID: req.ResponsibleID,
		AccountingID:  req.AccountingID,
		ApproverID:    req.ApproverID,
		RequestType:   req.RequestType,
		Amount:        req.Amount,
		Status:        req.Status,
		CardType:      req.CardType,
		FinalCardID:   req.FinalCardID,
		Reason:        req.Reason,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
	}
}

type historyDTO struct {
	ID         uint64                `json:"id"`
	ActorID    *uint64               `json:"actor_id"`
	FromStatus *models.RequestStatus `json:"from_status"`
	ToStatus   models.RequestStatus  `json:"to_status"`
	Note       string                `json:"note"`
	CreatedAt  time.Time             `json:"created_at"`
}

type userDTO struct {
	ID                 uint64             `json:"id"`
	FullName           string             `json:"full_name"`
	Phone              string             `json:"phone"`
	Role               models.UserRole    `json:"role"`
	Department         *models.Department `json:"department"`
	ManagerID          *uint64            `json:"manager_id"`
	LineExpiry         *time.Time         `json:"line_expiry"`
	LineType           *models.CardType   `json:"line_type"`
	CanApproveDirectly bool               `json:"can_approve_directly"`
	TelegramLinked     bool               `json:"telegram_linked"`
	IsActive           bool               `json:"is_active"`
	CreatedAt          time.Time          `json:"created_at"`
}

func newUserDTO(user *models.User) userDTO {
	return userDTO{
		ID:                 user.ID,
		FullName:           user.FullName,
		Phone:              user.Phone,
		Role:               user.Role,
		Department:         user.Department,
		ManagerID:          user.ManagerID,
		LineExpiry:         user.LineExpiry,
		LineType:           user.LineType,
		CanApproveDirectly: user.CanApproveDirectly,
		TelegramLinked:     user.TelegramID != nil,
		IsActive:           user.IsActive,
		CreatedAt:          user.CreatedAt,
	}
}

func newUserDTOs(users []models.User) []userDTO {
	out := make([]userDTO, 0, len(users))
	for i := range users {
		out = append(out, newUserDTO(&users[i]))
	}
	return out
}
