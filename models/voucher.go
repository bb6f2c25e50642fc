package models

import "strings"

type VoucherAction string

const (
	VoucherApplied VoucherAction = "applied"
	VoucherRemoved VoucherAction = "removed"
)

// ParseVoucherAction maps backend action strings onto applied/removed.
// ok is false for anything else.
func ParseVoucherAction(s string) (VoucherAction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VOUCHER_APPLIED", "VOUCHER_USED", "APPLIED":
		return VoucherApplied, true
	case "VOUCHER_REMOVED", "VOUCHER_CANCELLED", "REMOVED":
		return VoucherRemoved, true
	}
	return "", false
}

// Voucher is the latest voucher application recorded for one order.
type Voucher struct {
	Action        VoucherAction `json:"action"`
	OrderID       int           `json:"order_id"`
	VoucherID     int           `json:"voucher_id"`
	Code          string        `json:"code"`
	Name          string        `json:"name,omitempty"`
	DiscountValue float64       `json:"discount_value"`
	RemainingUses int           `json:"remaining_uses"`
	Active        bool          `json:"active"`
	Timestamp     string        `json:"timestamp,omitempty"`
}
