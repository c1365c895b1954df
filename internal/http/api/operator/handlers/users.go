package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/directory"
	"github.com/rasidhq/recharge/internal/models"
)

// UserHandler exposes the user directory.
type UserHandler struct {
	dir *directory.Directory
	loc *time.Location
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(dir *directory.Directory, loc *time.Location) *UserHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &UserHandler{dir: dir, loc: loc}
}

// Me returns the acting user.
func (h *UserHandler) Me(c *gin.Context) {
	user, errGet := h.dir.GetByID(c.Request.Context(), getUserID(c))
	if errGet != nil {
		writeError(c, errGet, "get profile")
		return
	}
	c.JSON(http.StatusOK, newUserDTO(user))
}

// MyMembers lists the members managed by the acting responsible.
func (h *UserHandler) MyMembers(c *gin.Context) {
	users, errList := h.dir.ListMembers(c.Request.Context(), getUserID(c))
	if errList != nil {
		writeError(c, errList, "list members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": newUserDTOs(users)})
}

// createUserRequest captures a new directory entry.
type createUserRequest struct {
	FullName           string `json:"full_name"`
	Phone              string `json:"phone"`
	Role               string `json:"role"`
	ManagerID          uint64 `json:"manager_id"`
	Department         string `json:"department"`
	LineExpiry         string `json:"line_expiry"` // YYYY-MM-DD
	LineType           string `json:"line_type"`
	CanApproveDirectly bool   `json:"can_approve_directly"`
}

// Create adds a user.
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	params := directory.CreateUserParams{
		FullName:           body.FullName,
		Phone:              body.Phone,
		Role:               models.UserRole(strings.ToLower(strings.TrimSpace(body.Role))),
		ManagerID:          body.ManagerID,
		CanApproveDirectly: body.CanApproveDirectly,
	}
	if raw := strings.TrimSpace(body.Department); raw != "" {
		dept := models.Department(strings.ToLower(raw))
		params.Department = &dept
	}
	if raw := strings.TrimSpace(body.LineType); raw != "" {
		lineType := models.CardType(strings.ToLower(raw))
		params.LineType = &lineType
	}
	if raw := strings.TrimSpace(body.LineExpiry); raw != "" {
		expiry, errParse := time.ParseInLocation(exportDateLayout, raw, h.loc)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line_expiry"})
			return
		}
		params.LineExpiry = &expiry
	}
	user, errCreate := h.dir.CreateUser(c.Request.Context(), params)
	if errCreate != nil {
		writeError(c, errCreate, "create user")
		return
	}
	c.JSON(http.StatusCreated, newUserDTO(user))
}

// Get returns one user.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, errGet := h.dir.GetByID(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet, "get user")
		return
	}
	c.JSON(http.StatusOK, newUserDTO(user))
}

// Lookup finds a user by phone number.
func (h *UserHandler) Lookup(c *gin.Context) {
	phone := strings.TrimSpace(c.Query("phone"))
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing phone"})
		return
	}
	user, errGet := h.dir.GetByPhone(c.Request.Context(), phone)
	if errGet != nil {
		writeError(c, errGet, "lookup user")
		return
	}
	c.JSON(http.StatusOK, newUserDTO(user))
}

// ListByRole lists active admins or responsibles.
func (h *UserHandler) ListByRole(c *gin.Context) {
	var (
		users   []models.User
		errList error
	)
	switch models.UserRole(c.Query("role")) {
	case models.UserRoleAdmin:
		users, errList = h.dir.ListAdmins(c.Request.Context())
	case models.UserRoleResponsible, "":
		users, errList = h.dir.ListResponsibles(c.Request.Context())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if errList != nil {
		writeError(c, errList, "list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": newUserDTOs(users)})
}

// Members lists the members of one responsible.
func (h *UserHandler) Members(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	users, errList := h.dir.ListMembers(c.Request.Context(), id)
	if errList != nil {
		writeError(c, errList, "list members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": newUserDTOs(users)})
}

type attachTelegramRequest struct {
	TelegramID int64 `json:"telegram_id"`
}

// AttachTelegram links a messaging account to a user.
func (h *UserHandler) AttachTelegram(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body attachTelegramRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	user, errAttach := h.dir.AttachTelegram(c.Request.Context(), id, body.TelegramID)
	if errAttach != nil {
		writeError(c, errAttach, "attach telegram")
		return
	}
	c.JSON(http.StatusOK, newUserDTO(user))
}

// Deactivate disables a user.
func (h *UserHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if id == getUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot deactivate yourself"})
		return
	}
	user, errDeactivate := h.dir.DeactivateUser(c.Request.Context(), id)
	if errDeactivate != nil {
		writeError(c, errDeactivate, "deactivate user")
		return
	}
	c.JSON(http.StatusOK, newUserDTO(user))
}
