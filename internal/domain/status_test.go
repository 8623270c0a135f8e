package domain

import "testing"

func TestAdvance_OnlyForward(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		target      string
		wantStatus  string
		wantChanged bool
	}{
		{name: "new to pending payment", current: StatusNew, target: StatusPendingPayment, wantStatus: StatusPendingPayment, wantChanged: true},
		{name: "deposit paid", current: StatusPendingPayment, target: StatusPendingReservation, wantStatus: StatusPendingReservation, wantChanged: true},
		{name: "skip straight to pending info", current: StatusPendingPayment, target: StatusPendingInfo, wantStatus: StatusPendingInfo, wantChanged: true},
		{name: "same status is a no-op", current: StatusPendingReservation, target: StatusPendingReservation, wantStatus: StatusPendingReservation, wantChanged: false},
		{name: "backward is a no-op", current: StatusPendingInfo, target: StatusPendingReservation, wantStatus: StatusPendingInfo, wantChanged: false},
		{name: "confirmed never goes back to pending payment", current: StatusConfirmed, target: StatusPendingPayment, wantStatus: StatusConfirmed, wantChanged: false},
		{name: "cancelled is never touched", current: StatusCancelled, target: StatusPendingInfo, wantStatus: StatusCancelled, wantChanged: false},
		{name: "unknown target ignored", current: StatusNew, target: "archived", wantStatus: StatusNew, wantChanged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Advance(tt.current, tt.target)
			if got != tt.wantStatus || changed != tt.wantChanged {
				t.Fatalf("Advance(%q, %q) = (%q, %t), want (%q, %t)", tt.current, tt.target, got, changed, tt.wantStatus, tt.wantChanged)
			}
		})
	}
}

func TestStatusAfterPayment(t *testing.T) {
	tests := []struct {
		name        string
		totalPaid   int64
		price       int64
		installment string
		want        string
	}{
		{name: "deposit only", totalPaid: 30000, price: 100000, installment: InstallmentDeposit, want: StatusPendingReservation},
		{name: "full deposit covers price", totalPaid: 100000, price: 100000, installment: InstallmentDeposit, want: StatusPendingInfo},
		{name: "balance completes booking", totalPaid: 100000, price: 100000, installment: InstallmentBalance, want: StatusPendingInfo},
		{name: "partial balance leaves status", totalPaid: 50000, price: 100000, installment: InstallmentBalance, want: ""},
		{name: "overpayment still pending info", totalPaid: 100100, price: 100000, installment: InstallmentBalance, want: StatusPendingInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusAfterPayment(tt.totalPaid, tt.price, tt.installment); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAcceptsSignature(t *testing.T) {
	for _, status := range []string{StatusNew, StatusQuoteSent, StatusPendingPayment} {
		if !AcceptsSignature(status) {
			t.Fatalf("expected %s to accept a signature", status)
		}
	}
	for _, status := range []string{StatusPendingReservation, StatusPendingInfo, StatusCancelled, ""} {
		if AcceptsSignature(status) {
			t.Fatalf("expected %q to refuse a signature", status)
		}
	}
}

func TestProformaReference(t *testing.T) {
	if got := ProformaReference("BK-2041", 1); got != "PRO-BK-2041" {
		t.Fatalf("unexpected first reference %q", got)
	}
	if got := ProformaReference("BK-2041", 3); got != "PRO-BK-2041-3" {
		t.Fatalf("unexpected third reference %q", got)
	}
}
