/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the settlement-service. Multi-row writes that must
 * land together (contract issuance, payment recording) are single repository calls so
 * the PostgreSQL implementation can wrap them in one transaction.
 *
 * @dependencies
 * - github.com/google/uuid: For identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Booking and quote reads
	FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	FindQuoteByID(ctx context.Context, quoteID uuid.UUID) (*domain.Quote, error)

	// Contract methods
	IssueContract(ctx context.Context, params IssueContractParams) (*domain.Contract, error)
	FindContractByReference(ctx context.Context, bookingID uuid.UUID, reference string) (*domain.Contract, error)

	// Payment link methods
	FindPendingPaymentLink(ctx context.Context, bookingID uuid.UUID, installmentType string) (*domain.PaymentLink, error)
	CreatePaymentLink(ctx context.Context, link domain.PaymentLink, timelineMessage string) (*domain.PaymentLink, bool, error)
	RecordPaymentLinkFailure(ctx context.Context, params RecordLinkFailureParams) (bool, error)
	ExpireOverduePaymentLinks(ctx context.Context, now time.Time, limit int) ([]domain.PaymentLink, error)

	// Payment methods
	PaymentExists(ctx context.Context, providerPaymentID string) (bool, error)
	RecordPayment(ctx context.Context, params RecordPaymentParams) (*RecordPaymentResult, error)
}

// IssueContractParams carries everything written when a quote is signed.
type IssueContractParams struct {
	BookingID      uuid.UUID
	QuoteID        uuid.UUID
	CarrierID      *uuid.UUID
	PriceTTC       int64
	PriceHT        int64
	DepositAmount  int64
	BalanceAmount  int64
	DepositPercent int
	SignerName     string
	SignerIP       string
	SignerAgent    string
	Billing        domain.Billing
	PaymentMethod  string
	OptionsJSON    []byte
	SignedAt       time.Time
	// TimelineMessage renders the audit note once the contract reference is known.
	TimelineMessage func(reference string) string
}

// RecordPaymentParams describes a confirmed provider payment.
type RecordPaymentParams struct {
	BookingID         uuid.UUID
	Amount            int64
	PaymentType       string
	InstallmentType   string
	Provider          string
	ProviderPaymentID string
	ProviderLinkID    string
	PaidAt            time.Time
	TimelineMessage   string
}

// RecordPaymentResult reports the booking state after a payment was applied.
type RecordPaymentResult struct {
	PaymentID      uuid.UUID
	TotalPaid      int64
	PriceTTC       int64
	PreviousStatus string
	Status         string
	StatusChanged  bool
	LinkUpdated    bool
}

// RecordLinkFailureParams describes a failed or expired checkout.
type RecordLinkFailureParams struct {
	BookingID       uuid.UUID
	InstallmentType string
	Provider        string
	ProviderLinkID  string
	Status          string
	TimelineKind    string
	TimelineMessage string
	// Notification is written for genuine failures so an operator follows up.
	Notification *domain.AdminNotification
}
