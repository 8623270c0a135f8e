package domain

// Booking statuses. The CRM knows more states; only the ones below carry a rank the
// settlement engine can reason about.
const (
	StatusNew                = "new"
	StatusQuoteSent          = "quote_sent"
	StatusPendingPayment     = "pending_payment"
	StatusPendingReservation = "pending_reservation"
	StatusPendingInfo        = "pending_info"
	StatusConfirmed          = "confirmed"
	StatusCompleted          = "completed"
	StatusCancelled          = "cancelled"
)

var statusRank = map[string]int{
	StatusNew:                0,
	StatusQuoteSent:          1,
	StatusPendingPayment:     2,
	StatusPendingReservation: 3,
	StatusPendingInfo:        4,
	StatusConfirmed:          5,
	StatusCompleted:          6,
}

// StatusRank returns the progress rank of a status. Unknown and terminal statuses
// (cancelled) report ok=false.
func StatusRank(status string) (int, bool) {
	rank, ok := statusRank[status]
	return rank, ok
}

// Advance returns the status a booking should hold after the engine proposes target.
// Only strictly forward moves are applied; anything else keeps current and reports false.
func Advance(current, target string) (string, bool) {
	targetRank, ok := statusRank[target]
	if !ok {
		return current, false
	}
	currentRank, ok := statusRank[current]
	if !ok {
		// cancelled or a status outside the engine vocabulary: never touched.
		return current, false
	}
	if targetRank <= currentRank {
		return current, false
	}
	return target, true
}

// StatusAfterPayment computes the target status once a payment has been recorded.
// Fully paid bookings wait for trip details; a paid deposit waits for the carrier.
// An empty target means the booking status stays as it is.
func StatusAfterPayment(totalPaid, priceTTC int64, installmentType string) string {
	if priceTTC > 0 && totalPaid >= priceTTC {
		return StatusPendingInfo
	}
	if installmentType == InstallmentDeposit {
		return StatusPendingReservation
	}
	return ""
}

// AcceptsSignature reports whether a contract can still be (re)issued for a booking in
// the given status. Once money has been collected, price fields are frozen.
func AcceptsSignature(status string) bool {
	rank, ok := statusRank[status]
	if !ok {
		return false
	}
	return rank <= statusRank[StatusPendingPayment]
}
