package domain

import "github.com/shopspring/decimal"

// OrderStatus is the keeper-owned lifecycle state of a conditional order.
//
// Pending → Executing → {Executed, Failed, NeedsResign}
// Pending → Expired (window elapsed before trigger)
//
// Terminal statuses are never re-entered. NeedsResign requires a fresh
// signature from the intake path before the order can return to Pending.
type OrderStatus string

const (
	OrderPending     OrderStatus = "PENDING"
	OrderExecuting   OrderStatus = "EXECUTING"
	OrderExecuted    OrderStatus = "EXECUTED"
	OrderFailed      OrderStatus = "FAILED"
	OrderNeedsResign OrderStatus = "NEEDS_RESIGN"
	OrderExpired     OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderExecuted || s == OrderFailed || s == OrderExpired
}

// ConditionalOrder is a user-authorized trigger-price, time-windowed order.
// Created off-chain by the intake path; the keeper only transitions status.
type ConditionalOrder struct {
	OrderID      string
	Trader       string // base58 address
	Symbol       string
	IsLong       bool
	Collateral   decimal.Decimal
	Leverage     uint32
	TriggerPrice decimal.Decimal
	StartTime    int64 // ms, inclusive
	EndTime      int64 // ms, inclusive
	AuthNonce    uint64
	Signature    []byte
	SessionKey   string // base58 session-key address, empty if unused

	Status       OrderStatus
	StatusReason string
	ExecutedTx   string
	ExecutedPrice decimal.Decimal
	CreatedAt    int64 // ms
	UpdatedAt    int64 // ms
}

// InWindow reports whether nowMs falls within [StartTime, EndTime].
func (o *ConditionalOrder) InWindow(nowMs int64) bool {
	return nowMs >= o.StartTime && nowMs <= o.EndTime
}

// Expired reports whether the execution window has elapsed.
func (o *ConditionalOrder) Expired(nowMs int64) bool {
	return nowMs > o.EndTime
}

// Triggered reports whether currentPrice satisfies the trigger condition:
// long orders execute at or below the trigger, shorts at or above.
func (o *ConditionalOrder) Triggered(currentPrice decimal.Decimal) bool {
	if o.IsLong {
		return currentPrice.LessThanOrEqual(o.TriggerPrice)
	}
	return currentPrice.GreaterThanOrEqual(o.TriggerPrice)
}

// UsesSessionKey reports whether the order was authorized by a session key.
func (o *ConditionalOrder) UsesSessionKey() bool {
	return o.SessionKey != ""
}
