package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// CardType identifies the carrier a recharge card belongs to.
type CardType string

// Card types.
const (
	CardTypeAsia  CardType = "asia"
	CardTypeAthir CardType = "athir"
)

// CardTypes lists every card type in display order.
var CardTypes = []CardType{CardTypeAsia, CardTypeAthir}

// CardStatus is the lifecycle state of a card.
type CardStatus string

// Card statuses.
const (
	CardStatusAvailable CardStatus = "available"
	CardStatusReserved  CardStatus = "reserved"
	CardStatusSent      CardStatus = "sent"
	CardStatusArchived  CardStatus = "archived"
)

// InventoryAction names an entry in the card inventory log.
type InventoryAction string

// Inventory actions.
const (
	InventoryActionAdd            InventoryAction = "add"
	InventoryActionReserve        InventoryAction = "reserve"
	InventoryActionSend           InventoryAction = "send"
	InventoryActionRestore        InventoryAction = "restore"
	InventoryActionArchive        InventoryAction = "archive"
	InventoryActionThresholdAlert InventoryAction = "threshold_alert"
)

// RequestStatus is the lifecycle state of a recharge request.
type RequestStatus string

// Request statuses.
const (
	RequestStatusPendingManager    RequestStatus = "pending_manager"
	RequestStatusPendingAccounting RequestStatus = "pending_accounting"
	RequestStatusApproved          RequestStatus = "approved"
	RequestStatusRejected          RequestStatus = "rejected"
	RequestStatusCancelled         RequestStatus = "cancelled"
)

// RequestType distinguishes menu amounts from free-form amounts.
type RequestType string

// Request types.
const (
	RequestTypeFixed  RequestType = "fixed"
	RequestTypeCustom RequestType = "custom"
)

// UserRole is the permission tier of a user.
type UserRole string

// User roles.
const (
	UserRoleAdmin       UserRole = "admin"
	UserRoleResponsible UserRole = "responsible"
	UserRoleUser        UserRole = "user"
)

// Department groups users by organisational unit.
type Department string

// Departments.
const (
	DepartmentNetwork   Department = "network"
	DepartmentInstitute Department = "institute"
)

// Valid reports whether t is a known card type.
func (t CardType) Valid() bool {
	switch t {
	case CardTypeAsia, CardTypeAthir:
		return true
	}
	return false
}

// Valid reports whether s is a known card status.
func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusAvailable, CardStatusReserved, CardStatusSent, CardStatusArchived:
		return true
	}
	return false
}

// Valid reports whether a is a known inventory action.
func (a InventoryAction) Valid() bool {
	switch a {
	case InventoryActionAdd, InventoryActionReserve, InventoryActionSend,
		InventoryActionRestore, InventoryActionArchive, InventoryActionThresholdAlert:
		return true
	}
	return false
}

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPendingManager, RequestStatusPendingAccounting,
		RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected || s == RequestStatusCancelled
}

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	return t == RequestTypeFixed || t == RequestTypeCustom
}

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleResponsible, UserRoleUser:
		return true
	}
	return false
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	return d == DepartmentNetwork || d == DepartmentInstitute
}

// ParseCardType converts a raw string into a CardType.
func ParseCardType(raw string) (CardType, error) {
	return parseEnum(raw, "card type", CardType.Valid)
}

// ParseCardStatus converts a raw string into a CardStatus.
func ParseCardStatus(raw string) (CardStatus, error) {
	return parseEnum(raw, "card status", CardStatus.Valid)
}

// ParseInventoryAction converts a raw string into an InventoryAction.
func ParseInventoryAction(raw string) (InventoryAction, error) {
	return parseEnum(raw, "inventory action", InventoryAction.Valid)
}

// ParseRequestStatus converts a raw string into a RequestStatus.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	return parseEnum(raw, "request status", RequestStatus.Valid)
}

// ParseRequestType converts a raw string into a RequestType.
func ParseRequestType(raw string) (RequestType, error) {
	return parseEnum(raw, "request type", RequestType.Valid)
}

// ParseUserRole converts a raw string into a UserRole.
func ParseUserRole(raw string) (UserRole, error) {
	return parseEnum(raw, "user role", UserRole.Valid)
}

// ParseDepartment converts a raw string into a Department.
func ParseDepartment(raw string) (Department, error) {
	return parseEnum(raw, "department", Department.Valid)
}

// parseEnum normalizes raw to the canonical lowercase form and validates it.
func parseEnum[T ~string](raw, kind string, valid func(T) bool) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(raw)))
	if !valid(v) {
		return "", fmt.Errorf("models: unknown %s %q", kind, raw)
	}
	return v, nil
}

// scanEnum decodes a database value into an enum, rejecting unknown values.
func scanEnum[T ~string](dst *T, src any, kind string, valid func(T) bool) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		*dst = ""
		return nil
	default:
		return fmt.Errorf("models: cannot scan %T into %s", src, kind)
	}
	parsed, err := parseEnum(raw, kind, valid)
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}

// valueEnum encodes an enum for the database, rejecting unknown values.
func valueEnum[T ~string](v T, kind string, valid func(T) bool) (driver.Value, error) {
	if !valid(v) {
		return nil, fmt.Errorf("models: invalid %s %q", kind, string(v))
	}
	return string(v), nil
}

func (t *CardType) Scan(src any) error          { return scanEnum(t, src, "card type", CardType.Valid) }
func (t CardType) Value() (driver.Value, error) { return valueEnum(t, "card type", CardType.Valid) }
func (t *CardType) UnmarshalText(b []byte) error {
	v, err := ParseCardType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (s *CardStatus) Scan(src any) error { return scanEnum(s, src, "card status", CardStatus.Valid) }
func (s CardStatus) Value() (driver.Value, error) {
	return valueEnum(s, "card status", CardStatus.Valid)
}

func (a *InventoryAction) Scan(src any) error {
	return scanEnum(a, src, "inventory action", InventoryAction.Valid)
}
func (a InventoryAction) Value() (driver.Value, error) {
	return valueEnum(a, "inventory action", InventoryAction.Valid)
}

func (s *RequestStatus) Scan(src any) error {
	return scanEnum(s, src, "request status", RequestStatus.Valid)
}
func (s RequestStatus) Value() (driver.Value, error) {
	return valueEnum(s, "request status", RequestStatus.Valid)
}
func (s *RequestStatus) UnmarshalText(b []byte) error {
	v, err := ParseRequestStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (t *RequestType) Scan(src any) error { return scanEnum(t, src, "request type", RequestType.Valid) }
func (t RequestType) Value() (driver.Value, error) {
	return valueEnum(t, "request type", RequestType.Valid)
}
func (t *RequestType) UnmarshalText(b []byte) error {
	v, err := ParseRequestType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (r *UserRole) Scan(src any) error { return scanEnum(r, src, "user role", UserRole.Valid) }
func (r UserRole) Value() (driver.Value, error) {
	return valueEnum(r, "user role", UserRole.Valid)
}
func (r *UserRole) UnmarshalText(b []byte) error {
	v, err := ParseUserRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (d *Department) Scan(src any) error { return scanEnum(d, src, "department", Department.Valid) }
func (d Department) Value() (driver.Value, error) {
	return valueEnum(d, "department", Department.Valid)
}
func (d *Department) UnmarshalText(b []byte) error {
	v, err := ParseDepartment(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
