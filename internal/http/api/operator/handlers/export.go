package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/report"
	"github.com/rasidhq/recharge/internal/workflow"
)

const exportDateLayout = "2006-01-02"

// ExportHandler exports consumed requests.
type ExportHandler struct {
	flow *workflow.Workflow
	loc  *time.Location
}

// NewExportHandler constructs an ExportHandler. Dates are read in loc.
func NewExportHandler(flow *workflow.Workflow, loc *time.Location) *ExportHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ExportHandler{flow: flow, loc: loc}
}

type consumedDTO struct {
	RequestID      uint64             `json:"request_id"`
	Amount         int64              `json:"amount"`
	Tariff         int64              `json:"tariff"`
	RequestType    models.RequestType `json:"request_type"`
	CardType       *string            `json:"card_type"`
	UpdatedAt      time.Time          `json:"updated_at"`
	RequesterID    uint64             `json:"requester_id"`
	RequesterName  string             `json:"requester_name"`
	RequesterPhone string             `json:"requester_phone"`
	ApprovedBy     string             `json:"approved_by"`
}

// Consumed lists approved requests in [from, to] (calendar days, both inclusive).
// Responsibles only see their own team.
func (h *ExportHandler) Consumed(c *gin.Context) {
	filter := workflow.ExportFilter{}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		start, errParse := time.ParseInLocation(exportDateLayout, raw, h.loc)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		filter.Start = &start
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		day, errParse := time.ParseInLocation(exportDateLayout, raw, h.loc)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}
		end := day.AddDate(0, 0, 1)
		filter.End = &end
	}
	if filter.Start != nil && filter.End != nil && !filter.End.After(*filter.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must not be before from"})
		return
	}

	if getUserRole(c) == models.UserRoleResponsible {
		filter.ResponsibleID = getUserID(c)
	} else if raw := c.Query("responsible_id"); raw != "" {
		id, errParse := parseUintParam(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid responsible_id"})
			return
		}
		filter.ResponsibleID = id
	}

	rows, errExport := h.flow.ExportConsumedRequests(c.Request.Context(), filter)
	if errExport != nil {
		writeError(c, errExport, "export requests")
		return
	}
	out := make([]consumedDTO, 0, len(rows))
	var totalAmount, totalTariff int64
	for _, row := range rows {
		tariff := report.Tariff(row.Amount)
		totalAmount += row.Amount
		totalTariff += tariff
		out = append(out, consumedDTO{
			RequestID:      row.RequestID,
			Amount:         row.Amount,
			Tariff:         tariff,
			RequestType:    row.RequestType,
			CardType:       row.CardType,
			UpdatedAt:      row.UpdatedAt,
			RequesterID:    row.RequesterID,
			RequesterName:  row.RequesterName,
			RequesterPhone: row.RequesterPhone,
			ApprovedBy:     row.ApproverOrResponsible(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"requests":     out,
		"count":        len(out),
		"total_amount": totalAmount,
		"total_tariff": totalTariff,
	})
}

// MonthlyTotals returns approved totals per month for the last ?months= months (default 12).
func (h *ExportHandler) MonthlyTotals(c *gin.Context) {
	months := 12
	if raw := strings.TrimSpace(c.Query("months")); raw != "" {
		n, errParse := strconv.Atoi(raw)
		if errParse != nil || n <= 0 || n > 120 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid months"})
			return
		}
		months = n
	}
	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1-months, 0)

	var responsibleID uint64
	if getUserRole(c) == models.UserRoleResponsible {
		responsibleID = getUserID(c)
	}
	rows, errTotals := h.flow.MonthlyTotals(c.Request.Context(), since, responsibleID)
	if errTotals != nil {
		writeError(c, errTotals, "monthly totals")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{"month": row.Month, "requests": row.Requests, "total_amount": row.TotalAmount})
	}
	c.JSON(http.StatusOK, gin.H{"months": out})
}
