package domain

import (
	"fmt"
	"strings"
)

// Normalized payment event kinds.
const (
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventExpired   = "expired"
	EventUnknown   = "unknown"
)

// Provider names as persisted on links and payments.
const (
	ProviderMollie  = "mollie"
	ProviderLinkPay = "linkpay"
)

// PaymentEvent is the provider-neutral view of one webhook notification. Provider adapters
// build it at the boundary; reconciliation never looks at provider field names.
type PaymentEvent struct {
	Provider        string
	ExternalID      string
	LinkID          string
	BookingID       string
	Reference       string
	InstallmentType string
	AmountMinor     int64
	Currency        string
	Kind            string
	RawStatus       string
}

// String is used in log lines.
func (e PaymentEvent) String() string {
	return fmt.Sprintf("%s:%s kind=%s booking=%s type=%s amount=%d", e.Provider, e.ExternalID, e.Kind, e.BookingID, e.InstallmentType, e.AmountMinor)
}

// ProformaReference builds the contract reference for the nth contract on a booking.
func ProformaReference(bookingReference string, n int) string {
	ref := strings.TrimSpace(bookingReference)
	if n <= 1 {
		return "PRO-" + ref
	}
	return fmt.Sprintf("PRO-%s-%d", ref, n)
}
