package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/approval"
	"github.com/rasidhq/recharge/internal/directory"
	"github.com/rasidhq/recharge/internal/ledger"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/report"
	"github.com/rasidhq/recharge/internal/workflow"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services bundles the domain services the operator handlers call.
type Services struct {
	DB        *gorm.DB
	Ledger    *ledger.Ledger
	Workflow  *workflow.Workflow
	Directory *directory.Directory
	Approval  *approval.Service
	Reports   *report.Generator
	Location  *time.Location
}

// getUserID extracts the acting user ID from gin context.
func getUserID(c *gin.Context) uint64 {
	val, exists := c.Get("userID")
	if !exists {
		return 0
	}
	switch v := val.(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	case uint:
		return uint64(v)
	case int:
		return uint64(v)
	default:
		return 0
	}
}

// getUserRole extracts the acting user's role from gin context.
func getUserRole(c *gin.Context) models.UserRole {
	val, _ := c.Get("userRole")
	role, _ := val.(models.UserRole)
	return role
}

// parseUintParam trims and parses a uint64 from a string parameter.
func parseUintParam(value string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 10, 64)
}

// pathID parses the :id route parameter and writes a 400 when it is malformed.
func pathID(c *gin.Context) (uint64, bool) {
	id, errParse := parseUintParam(c.Param("id"))
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// parseOptionalCardType returns nil for an empty value.
func parseOptionalCardType(raw string) (*models.CardType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, errParse := models.ParseCardType(raw)
	if errParse != nil {
		return nil, apperr.Validation("%v", errParse)
	}
	return &t, nil
}

// parseLimit reads ?limit=, falling back to def and capping at max.
func parseLimit(c *gin.Context, def, max int) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def
	}
	n, errParse := strconv.Atoi(raw)
	if errParse != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// writeError maps a service error onto a JSON response. Server-side failures
// are logged and answered with a generic message.
func writeError(c *gin.Context, err error, action string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, apperr.ErrTransient) {
		log.WithError(err).WithField("action", action).Error("operator api: request failed")
		c.JSON(status, gin.H{"error": action + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
