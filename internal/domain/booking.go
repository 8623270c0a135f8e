/**
 * @description
 * This file defines the core domain models for the settlement-service. These structs
 * map to the booking, quote, contract, payment link, payment and timeline tables that
 * the settlement engine reads and writes.
 *
 * @notes
 * - Amounts are stored as `int64` minor units (cents) so that deposit + balance always
 *   equals the final price exactly. Conversion to 2-decimal values happens at the edges.
 * - Timestamps are UTC.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Installment types accepted by the payment link broker and carried in provider metadata.
const (
	InstallmentDeposit = "acompte"
	InstallmentBalance = "solde"
)

// Payment link statuses.
const (
	LinkStatusPending = "pending"
	LinkStatusPaid    = "paid"
	LinkStatusFailed  = "failed"
	LinkStatusExpired = "expired"
)

// Payment types recorded on a paiement row.
const (
	PaymentTypeCard     = "cb"
	PaymentTypeTransfer = "virement"
	PaymentTypeCash     = "especes"
	PaymentTypeCheque   = "cheque"
)

// IsValidPaymentType reports whether t is one of the recorded payment types.
func IsValidPaymentType(t string) bool {
	switch t {
	case PaymentTypeCard, PaymentTypeTransfer, PaymentTypeCash, PaymentTypeCheque:
		return true
	}
	return false
}

const (
	QuoteStatusSent     = "sent"
	QuoteStatusAccepted = "accepted"

	ContractStatusActive = "active"

	PaymentStatusCompleted = "completed"

	InvoiceStatusOpen = "open"
	InvoiceStatusPaid = "paid"
)

// IsValidInstallmentType reports whether t is acompte or solde.
func IsValidInstallmentType(t string) bool {
	return t == InstallmentDeposit || t == InstallmentBalance
}

// Booking is one customer trip request (dossier) that has reached a sellable state.
type Booking struct {
	ID            uuid.UUID  `json:"id"`
	Reference     string     `json:"reference"`
	CustomerName  string     `json:"customer_name"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	Origin        string     `json:"origin"`
	Destination   string     `json:"destination"`
	DepartureDate time.Time  `json:"departure_date"`
	ReturnDate    *time.Time `json:"return_date,omitempty"`
	Passengers    int        `json:"passengers"`
	PriceTTC      int64      `json:"price_ttc"`
	PriceHT       int64      `json:"price_ht"`
	DepositAmount int64      `json:"deposit_amount"`
	BalanceAmount int64      `json:"balance_amount"`
	Status        string     `json:"status"`
	CarrierID     *uuid.UUID `json:"carrier_id,omitempty"`
	SignerName    *string    `json:"signer_name,omitempty"`
	PaymentMethod *string    `json:"payment_method,omitempty"`
	Billing       *Billing   `json:"billing,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Billing holds the invoicing identity captured at signature time.
type Billing struct {
	Name       string `json:"name"`
	Company    string `json:"company,omitempty"`
	Address    string `json:"address"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
	VATNumber  string `json:"vat_number,omitempty"`
}

// Quote is one carrier's priced offer (devis) against a booking.
type Quote struct {
	ID             uuid.UUID     `json:"id"`
	BookingID      uuid.UUID     `json:"booking_id"`
	CarrierID      *uuid.UUID    `json:"carrier_id,omitempty"`
	Price          int64         `json:"price"`
	OriginalPrice  *int64        `json:"original_price,omitempty"`
	PromoExpiresAt *time.Time    `json:"promo_expires_at,omitempty"`
	VATRate        float64       `json:"vat_rate"`
	Vehicle        string        `json:"vehicle"`
	DurationDays   int           `json:"duration_days"`
	Nights         int           `json:"nights"`
	DriverCount    int           `json:"driver_count"`
	Options        []QuoteOption `json:"options"`
	Status         string        `json:"status"`
	AcceptedAt     *time.Time    `json:"accepted_at,omitempty"`
}

// Option status as set by the carrier on the quote.
const (
	OptionIncluded    = "included"
	OptionNotIncluded = "not_included"
	OptionUnavailable = "unavailable"
)

// Quantity rules for priced options.
const (
	UnitFlat      = "flat"
	UnitPerKm     = "per_km"
	UnitPerDriver = "per_driver"
	UnitPerNight  = "per_night"
	UnitMeal      = "meal"
)

// QuoteOption is one selectable add-on (tolls, driver lodging, meals, second driver...).
type QuoteOption struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Status   string `json:"status"`
	UnitCost int64  `json:"unit_cost"`
	Unit     string `json:"unit"`
}

// Contract is the immutable financial record created when a quote is accepted.
type Contract struct {
	ID             uuid.UUID `json:"id"`
	BookingID      uuid.UUID `json:"booking_id"`
	QuoteID        uuid.UUID `json:"quote_id"`
	Reference      string    `json:"reference"`
	PriceTTC       int64     `json:"price_ttc"`
	PriceHT        int64     `json:"price_ht"`
	DepositAmount  int64     `json:"deposit_amount"`
	BalanceAmount  int64     `json:"balance_amount"`
	DepositPercent int       `json:"deposit_percent"`
	SignerName     string    `json:"signer_name"`
	SignerIP       string    `json:"signer_ip"`
	SignerAgent    string    `json:"signer_user_agent"`
	Billing        Billing   `json:"billing"`
	PaymentMethod  string    `json:"payment_method"`
	SignedAt       time.Time `json:"signed_at"`
	Status         string    `json:"status"`
}

// PaymentLink is one hosted checkout session per (booking, installment type).
type PaymentLink struct {
	ID              uuid.UUID  `json:"id"`
	BookingID       uuid.UUID  `json:"booking_id"`
	InstallmentType string     `json:"installment_type"`
	Provider        string     `json:"provider"`
	ProviderLinkID  string     `json:"provider_link_id"`
	URL             string     `json:"url"`
	Amount          int64      `json:"amount"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
}

// IsExpiredAt reports whether the link is past its expiry at t.
func (l PaymentLink) IsExpiredAt(t time.Time) bool {
	return l.ExpiresAt != nil && !t.Before(*l.ExpiresAt)
}

// Payment is one recorded money movement (paiement).
type Payment struct {
	ID                uuid.UUID `json:"id"`
	BookingID         uuid.UUID `json:"booking_id"`
	Amount            int64     `json:"amount"`
	Type              string    `json:"type"`
	InstallmentType   string    `json:"installment_type"`
	Provider          string    `json:"provider"`
	ProviderPaymentID *string   `json:"provider_payment_id,omitempty"`
	Status            string    `json:"status"`
	PaidAt            time.Time `json:"paid_at"`
}

// TimelineEntry is an append-only audit note on a booking.
type TimelineEntry struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Timeline entry kinds written by the engine.
const (
	TimelineContractSigned = "contract_signed"
	TimelineLinkCreated    = "payment_link_created"
	TimelinePaymentPaid    = "payment_received"
	TimelinePaymentFailed  = "payment_failed"
	TimelineLinkExpired    = "payment_link_expired"
)

// AdminNotification is an internal follow-up item shown in the CRM.
type AdminNotification struct {
	ID        uuid.UUID  `json:"id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
}
