// Package directory resolves users and maintains the manager/member links
// the approval flows route on.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Directory reads and maintains user records.
type Directory struct {
	db  *gorm.DB
	log log.FieldLogger
}

// New constructs a Directory. It returns nil when db is nil.
func New(conn *gorm.DB, logger log.FieldLogger) *Directory {
	if conn == nil {
		return nil
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Directory{db: conn, log: logger.WithField("component", "directory")}
}

// GetByID loads a user by id, active or not.
func (d *Directory) GetByID(ctx context.Context, id uint64) (*models.User, error) {
	return d.first(ctx, "user "+fmt.Sprint(id), "id = ?", id)
}

// GetByPhone loads a user by phone number.
func (d *Directory) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	phone = NormalizePhone(phone)
	return d.first(ctx, "phone "+phone, "phone = ?", phone)
}

// GetByTelegramID loads an active user by linked messaging account.
func (d *Directory) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return d.first(ctx, "telegram account "+fmt.Sprint(telegramID), "telegram_id = ? AND is_active = ?", telegramID, true)
}

func (d *Directory) first(ctx context.Context, what string, query string, args ...any) (*models.User, error) {
	var user models.User
	errFind := d.db.WithContext(ctx).Where(query, args...).Take(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("%s", what)
	}
	if errFind != nil {
		return nil, fmt.Errorf("directory: find %s: %w", what, errFind)
	}
	return &user, nil
}

// ListAdmins returns active admins.
func (d *Directory) ListAdmins(ctx context.Context) ([]models.User, error) {
	return d.list(ctx, "role = ? AND is_active = ?", models.UserRoleAdmin, true)
}

// ListResponsibles returns active responsibles.
func (d *Directory) ListResponsibles(ctx context.Context) ([]models.User, error) {
	return d.list(ctx, "role = ? AND is_active = ?", models.UserRoleResponsible, true)
}

// ListMembers returns the users managed by managerID.
func (d *Directory) ListMembers(ctx context.Context, managerID uint64) ([]models.User, error) {
	return d.list(ctx, "manager_id = ?", managerID)
}

func (d *Directory) list(ctx context.Context, query string, args ...any) ([]models.User, error) {
	var users []models.User
	if errFind := d.db.WithContext(ctx).Where(query, args...).Order("full_name ASC").Order("id ASC").Find(&users).Error; errFind != nil {
		return nil, fmt.Errorf("directory: list users: %w", errFind)
	}
	return users, nil
}

// CreateUserParams describes a new user.
type CreateUserParams struct {
	FullName           string
	Phone              string
	Role               models.UserRole
	ManagerID          uint64
	Department         *models.Department
	LineExpiry         *time.Time
	LineType           *models.CardType
	CanApproveDirectly bool
}

// CreateUser validates and inserts a user. Members must name an active responsible as manager.
func (d *Directory) CreateUser(ctx context.Context, p CreateUserParams) (*models.User, error) {
	name := strings.TrimSpace(p.FullName)
	phone := NormalizePhone(p.Phone)
	switch {
	case name == "":
		return nil, apperr.Validation("full name is required")
	case phone == "":
		return nil, apperr.Validation("phone is required")
	case !p.Role.Valid():
		return nil, apperr.Validation("unknown role %q", p.Role)
	case p.Department != nil && !p.Department.Valid():
		return nil, apperr.Validation("unknown department %q", *p.Department)
	case p.LineType != nil && !p.LineType.Valid():
		return nil, apperr.Validation("unknown line type %q", *p.LineType)
	case p.Role == models.UserRoleUser && p.ManagerID == 0:
		return nil, apperr.Validation("members need a manager")
	case p.CanApproveDirectly && p.Role != models.UserRoleResponsible:
		return nil, apperr.Validation("only responsibles can approve directly")
	}

	user := &models.User{
		FullName:           name,
		Phone:              phone,
		Role:               p.Role,
		Department:         p.Department,
		ManagerID:          models.NullableID(p.ManagerID),
		LineExpiry:         p.LineExpiry,
		LineType:           p.LineType,
		CanApproveDirectly: p.CanApproveDirectly,
		IsActive:           true,
	}
	errTx := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.ManagerID != 0 {
			var manager models.User
			errFind := tx.Where("id = ? AND role = ? AND is_active = ?", p.ManagerID, models.UserRoleResponsible, true).Take(&manager).Error
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return apperr.Validation("manager %d is not an active responsible", p.ManagerID)
			}
			if errFind != nil {
				return errFind
			}
		}
		var existing int64
		if errCount := tx.Model(&models.User{}).Where("phone = ?", phone).Count(&existing).Error; errCount != nil {
			return errCount
		}
		if existing > 0 {
			return apperr.Conflict("phone %s already registered", phone)
		}
		return tx.Create(user).Error
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("directory: create user: %w", errTx))
	}
	d.log.WithFields(log.Fields{"user_id": user.ID, "role": user.Role, "manager_id": p.ManagerID}).Info("directory: user created")
	return user, nil
}

// AttachTelegram links a messaging account to a user.
func (d *Directory) AttachTelegram(ctx context.Context, userID uint64, telegramID int64) (*models.User, error) {
	if telegramID == 0 {
		return nil, apperr.Validation("telegram id is required")
	}
	user, err := d.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if errUpdate := d.db.WithContext(ctx).Model(user).UpdateColumn("telegram_id", telegramID).Error; errUpdate != nil {
		return nil, apperr.Classify(fmt.Errorf("directory: attach telegram: %w", errUpdate))
	}
	user.TelegramID = &telegramID
	d.log.WithFields(log.Fields{"user_id": userID}).Info("directory: telegram account attached")
	return user, nil
}

// DeactivateUser disables a user, unlinks their members and their messaging account.
func (d *Directory) DeactivateUser(ctx context.Context, userID uint64) (*models.User, error) {
	var user models.User
	errTx := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		errFind := tx.Where("id = ?", userID).Take(&user).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apperr.NotFound("user %d", userID)
		}
		if errFind != nil {
			return errFind
		}
		if errDetach := tx.Model(&models.User{}).Where("manager_id = ?", userID).
			UpdateColumn("manager_id", nil).Error; errDetach != nil {
			return errDetach
		}
		return tx.Model(&user).UpdateColumns(map[string]any{"is_active": false, "telegram_id": nil}).Error
	})
	if errTx != nil {
		return nil, apperr.Classify(fmt.Errorf("directory: deactivate user: %w", errTx))
	}
	user.IsActive = false
	user.TelegramID = nil
	d.log.WithField("user_id", userID).Info("directory: user deactivated")
	return &user, nil
}

// NormalizePhone strips spaces and dashes from a phone number.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}
