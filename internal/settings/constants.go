package settings

// DB config keys and defaults for settings.
const (
	// InventoryThresholdKey is the remaining-stock level at or below which admins are alerted.
	InventoryThresholdKey = "INVENTORY_ALERT_THRESHOLD"
	// DefaultInventoryThreshold is the fallback low-stock threshold.
	DefaultInventoryThreshold = 2
	// ReportDayKey is the day of month the monthly report runs on.
	ReportDayKey = "MONTHLY_REPORT_DAY"
	// DefaultReportDay is the fallback report day.
	DefaultReportDay = 1
	// ReportHourKey is the local hour the monthly report runs at.
	ReportHourKey = "MONTHLY_REPORT_HOUR"
	// DefaultReportHour is the fallback report hour.
	DefaultReportHour = 8
	// DirectSendEnabledKey toggles the admin direct-send flow.
	DirectSendEnabledKey = "DIRECT_SEND_ENABLED"
	// DefaultDirectSendEnabled sets the direct-send default.
	DefaultDirectSendEnabled = true
)
