package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/report"
)

// ReportHandler triggers monthly report generation.
type ReportHandler struct {
	gen *report.Generator
	now func() time.Time
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(gen *report.Generator) *ReportHandler {
	return &ReportHandler{gen: gen, now: time.Now}
}

type monthlyRunRequest struct {
	Month string `json:"month"` // YYYY-MM; defaults to the previous month.
}

// RunMonthly builds the monthly report for the requested or previous month.
func (h *ReportHandler) RunMonthly(c *gin.Context) {
	if h.gen == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reports disabled"})
		return
	}
	var body monthlyRunRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	var (
		sum    *report.Summary
		errRun error
		month  = strings.TrimSpace(body.Month)
		loc    = h.gen.Location()
		ctx    = c.Request.Context()
	)
	if month == "" {
		sum, errRun = h.gen.Run(ctx, h.now())
	} else {
		start, errParse := time.ParseInLocation("2006-01", month, loc)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month, expected YYYY-MM"})
			return
		}
		sum, errRun = h.gen.Build(ctx, start, start.AddDate(0, 1, 0))
	}
	if errRun != nil {
		writeError(c, errRun, "monthly report")
		return
	}
	if sum == nil {
		c.JSON(http.StatusOK, gin.H{"generated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generated":    true,
		"period_start": sum.PeriodStart.In(loc).Format(exportDateLayout),
		"period_end":   sum.PeriodEnd.In(loc).Add(-time.Nanosecond).Format(exportDateLayout),
		"card_count":   sum.CardCount,
		"total_amount": sum.TotalAmount,
		"total_tariff": sum.TotalTariff,
		"summary_path": sum.SummaryPath,
		"users_path":   sum.UsersPath,
	})
}
