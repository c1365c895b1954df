package settings

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// IntValue returns the integer stored under key, or def when unset or malformed.
func IntValue(key string, def int) int {
	if raw, ok := DBConfigValue(key); ok {
		if parsed, okParse := parseDBConfigInt(raw); okParse {
			return parsed
		}
	}
	return def
}

// BoolValue returns the boolean stored under key, or def when unset or malformed.
func BoolValue(key string, def bool) bool {
	if raw, ok := DBConfigValue(key); ok {
		if parsed, okParse := parseDBConfigBool(raw); okParse {
			return parsed
		}
	}
	return def
}

// InventoryThreshold returns the low-stock alert threshold.
func InventoryThreshold() int64 {
	n := IntValue(InventoryThresholdKey, DefaultInventoryThreshold)
	if n < 0 {
		return DefaultInventoryThreshold
	}
	return int64(n)
}

// ReportSchedule returns the day of month and hour the monthly report runs at.
func ReportSchedule() (day, hour int) {
	day = IntValue(ReportDayKey, DefaultReportDay)
	if day < 1 || day > 28 {
		day = DefaultReportDay
	}
	hour = IntValue(ReportHourKey, DefaultReportHour)
	if hour < 0 || hour > 23 {
		hour = DefaultReportHour
	}
	return day, hour
}

// DirectSendEnabled reports whether the direct-send flow is open.
func DirectSendEnabled() bool {
	return BoolValue(DirectSendEnabledKey, DefaultDirectSendEnabled)
}

func parseDBConfigInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseDBConfigInt(wrapper.Value)
	}
	return 0, false
}

func parseDBConfigBool(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, false
	}
	var b bool
	if errUnmarshal := json.Unmarshal(raw, &b); errUnmarshal == nil {
		return b, true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.ParseBool(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseDBConfigBool(wrapper.Value)
	}
	return false, false
}
