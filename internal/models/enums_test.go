package models

import (
	"encoding/json"
	"testing"
)

func TestParseCardTypeNormalizes(t *testing.T) {
	got, err := ParseCardType("  ASIA ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != CardTypeAsia {
		t.Fatalf("expected asia, got %q", got)
	}
	if _, errBad := ParseCardType("zain"); errBad == nil {
		t.Fatalf("expected error for unknown card type")
	}
}

func TestEnumScanRejectsUnknownValues(t *testing.T) {
	var status CardStatus
	if err := status.Scan("reserved"); err != nil || status != CardStatusReserved {
		t.Fatalf("scan reserved: status=%q err=%v", status, err)
	}
	if err := status.Scan([]byte("lost")); err == nil {
		t.Fatalf("expected scan error for unknown status")
	}
	var reqStatus RequestStatus
	if err := reqStatus.Scan(42); err == nil {
		t.Fatalf("expected scan error for non-string source")
	}
}

func TestEnumValueRejectsUnknownValues(t *testing.T) {
	if _, err := RequestStatus("done").Value(); err == nil {
		t.Fatalf("expected value error for unknown request status")
	}
	v, err := InventoryActionThresholdAlert.Value()
	if err != nil || v != "threshold_alert" {
		t.Fatalf("unexpected value %v err=%v", v, err)
	}
}

func TestEnumJSONBoundary(t *testing.T) {
	var payload struct {
		Type   CardType    `json:"type"`
		Kind   RequestType `json:"kind"`
		Status *RequestStatus
	}
	if err := json.Unmarshal([]byte(`{"type":"Athir","kind":"custom"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Type != CardTypeAthir || payload.Kind != RequestTypeCustom || payload.Status != nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if err := json.Unmarshal([]byte(`{"type":"gold"}`), &payload); err == nil {
		t.Fatalf("expected error for unknown card type")
	}
}

func TestRequestStatusTerminal(t *testing.T) {
	for _, s := range []RequestStatus{RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []RequestStatus{RequestStatusPendingManager, RequestStatusPendingAccounting} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
