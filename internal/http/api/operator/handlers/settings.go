package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	internalsettings "github.com/rasidhq/recharge/internal/settings"
	"gorm.io/gorm"
)

// SettingsHandler reads and updates runtime settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// List returns the effective runtime settings.
func (h *SettingsHandler) List(c *gin.Context) {
	day, hour := internalsettings.ReportSchedule()
	c.JSON(http.StatusOK, gin.H{
		internalsettings.InventoryThresholdKey: internalsettings.InventoryThreshold(),
		internalsettings.ReportDayKey:          day,
		internalsettings.ReportHourKey:         hour,
		internalsettings.DirectSendEnabledKey:  internalsettings.DirectSendEnabled(),
		"updated_at":                           internalsettings.DBConfigUpdatedAt(),
	})
}

// Put stores one setting. The body is the raw JSON value.
func (h *SettingsHandler) Put(c *gin.Context) {
	raw, errRead := io.ReadAll(io.LimitReader(c.Request.Body, 4096))
	if errRead != nil || !json.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	key := c.Param("key")
	if errPut := internalsettings.Put(c.Request.Context(), h.db, key, json.RawMessage(raw)); errPut != nil {
		writeError(c, errPut, "update setting")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "key": key})
}
